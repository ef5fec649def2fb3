package settings

import (
	"bufio"
	"fmt"
	"log"
	"net/url"
	"os"
	"regexp"
	"strings"
)

var Settings *AppSettings

func NewSettings() *AppSettings {
	settings := AppSettings{
		Domain:                 getEnvOrDefault("CONVEYOR_DOMAIN", "localhost"),
		Port:                   getEnvOrDefault("CONVEYOR_PORT", ":8153"),
		Database:               getEnvOrDefault("CONVEYOR_DB_DSN", "file:.///conveyor.sqlite"),
		TokenSecret:            os.Getenv("CONVEYOR_TOKEN_SECRET"),
		AutoRegisterKey:        os.Getenv("CONVEYOR_AUTO_REGISTER_KEY"),
		AllowLocalAutoRegister: os.Getenv("CONVEYOR_ALLOW_LOCAL_AUTO_REGISTER") == "true",
		PluginManifestPath:     getEnvOrDefault("CONVEYOR_PLUGIN_MANIFEST", ""),
	}
	if !strings.HasPrefix(settings.Port, ":") {
		settings.Port = ":" + settings.Port
	}
	return &settings
}

func getEnvOrDefault(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

type AppSettings struct {
	Domain   string
	Port     string
	Database string
	// TokenSecret keys the HMAC over agent uuids in registration tokens.
	TokenSecret string
	// AutoRegisterKey, when presented by a registering agent, skips the
	// pending approval step.
	AutoRegisterKey        string
	AllowLocalAutoRegister bool
	PluginManifestPath     string
}

func (as *AppSettings) BaseURL() string {
	if as.Domain == "localhost" {
		return fmt.Sprintf("http://%s%s", as.Domain, as.Port)
	} else {
		return fmt.Sprintf("https://%s", as.Domain)
	}
}

// DriverName picks the database/sql driver from the DSN. Postgres URLs use
// the pgx stdlib driver, everything else is treated as a sqlite file.
func (as *AppSettings) DriverName() string {
	if strings.HasPrefix(as.Database, "postgres://") ||
		strings.HasPrefix(as.Database, "postgresql://") {
		return "pgx"
	}
	return "sqlite"
}

func (as *AppSettings) DBString(readonly bool) string {
	if as.DriverName() == "pgx" {
		return as.Database
	}
	params := make(url.Values)
	params.Add("_journal_mode", "WAL")
	params.Add("_busy_timeout", "5000")
	params.Add("_synchronous", "NORMAL")
	params.Add("_cache_size", "-20000")
	params.Add("_foreign_keys", "ON")
	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "IMMEDIATE")
		params.Add("mode", "rwc")
	}

	return as.Database + "?" + params.Encode()
}

func ReadDotenv(path string) {
	re := regexp.MustCompile(`^[^0-9][A-Z0-9_]+=.+$`)
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) > 0 && line[0] != '#' && re.Match(line) {
			split := strings.Split(string(line), "=")
			name := strings.TrimSpace(split[0])
			value := strings.TrimSpace(split[1])
			value = strings.Trim(value, `"`)
			os.Setenv(name, value)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Println("err reading dotenv:", err)
	}
}
