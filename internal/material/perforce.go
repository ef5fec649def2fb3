package material

import (
	"fmt"
	"strconv"
	"strings"
)

type Perforce struct {
	Port       string
	View       string
	Username   string
	Password   string
	UseTickets bool
}

func (p Perforce) Type() Type { return TypePerforce }

func (p Perforce) Attributes() map[string]string {
	return map[string]string{
		"port":        strings.TrimSpace(p.Port),
		"view":        strings.TrimSpace(p.View),
		"username":    p.Username,
		"use_tickets": strconv.FormatBool(p.UseTickets),
	}
}

func (p Perforce) Fingerprint() string {
	return fingerprintOf(TypePerforce, p.Attributes())
}

func (p Perforce) Describe() string {
	return fmt.Sprintf("perforce %s, view %s", strings.TrimSpace(p.Port), strings.TrimSpace(p.View))
}
