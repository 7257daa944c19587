package models

import (
	"fmt"
	"time"
)

type ProxyEntry struct {
	Raw         string    `json:"raw"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Protocol    string    `json:"protocol"`
	Username    string    `json:"-"`
	Password    string    `json:"-"`
	LastChecked time.Time `json:"last_checked"`
	Alive       bool      `json:"alive"`
	Failures    int       `json:"failures"`
}

// URL returns the proxy in scheme://[user:pass@]host:port form.
func (p ProxyEntry) URL() string {
	if p.Username != "" {
		return fmt.Sprintf("%s://%s:%s@%s:%d", p.Protocol, p.Username, p.Password, p.Host, p.Port)
	}
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Host, p.Port)
}
