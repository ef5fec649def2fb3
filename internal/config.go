package internal

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/haatos/conveyor/internal/util"
)

var Config *Configuration

type SecondsDuration time.Duration

func NewSecondsDuration(seconds int64) SecondsDuration {
	return SecondsDuration(time.Duration(seconds) * time.Second)
}

func (sd SecondsDuration) MarshalJSON() ([]byte, error) {
	seconds := float64(time.Duration(sd)) / float64(time.Second)
	return json.Marshal(seconds)
}

func (sd *SecondsDuration) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return err
	}
	*sd = SecondsDuration(seconds * float64(time.Second))
	return nil
}

type Configuration struct {
	// LostContactAfterSeconds is how long after the last heartbeat an
	// enabled agent counts as LostContact.
	LostContactAfterSeconds SecondsDuration `json:"lost_contact_after_seconds"`
	// MissingAfterSeconds is the grace period after registration before a
	// never-heartbeating agent counts as Missing.
	MissingAfterSeconds     SecondsDuration `json:"missing_after_seconds"`
	MaterialPollSeconds     SecondsDuration `json:"material_poll_seconds"`
	DependencyPollPageSize  int64           `json:"dependency_poll_page_size"`
	FlyweightRoot           string          `json:"flyweight_root"`
	AgentRequestsPerSecond  float64         `json:"agent_requests_per_second"`
}

func InitializeConfiguration() {
	Config = &Configuration{
		LostContactAfterSeconds: NewSecondsDuration(120),
		MissingAfterSeconds:     NewSecondsDuration(300),
		MaterialPollSeconds:     NewSecondsDuration(60),
		DependencyPollPageSize:  100,
		FlyweightRoot:           "flyweights",
		AgentRequestsPerSecond:  20,
	}

	configFileExists, _ := util.PathExists("config.json")
	if !configFileExists {
		b, err := json.MarshalIndent(Config, "", "    ")
		if err != nil {
			log.Fatal(err)
		}
		configFile, err := os.Create("config.json")
		if err != nil {
			log.Fatal(err)
		}
		if _, err := configFile.Write(b); err != nil {
			log.Fatal(err)
		}
	} else {
		configBytes, err := os.ReadFile("config.json")
		if err != nil {
			log.Fatal(err)
		}
		if err := json.Unmarshal(configBytes, &Config); err != nil {
			log.Fatal(err)
		}
	}
}
