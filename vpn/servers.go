// Package vpn implements the connection lifecycle core of the Ovvio VPN
// client. This file contains the server topology models as reported by
// the servers API, and their flattening into connectable endpoints.
package vpn

import (
	"github.com/ovvio/vpn-client/common"
)

// ServerResponse is the wire shape of GET /api/servers.
type ServerResponse struct {
	Status  bool      `json:"status"`
	Servers []Country `json:"servers"`
}

// Country is a top-level server group. It owns display and tier
// metadata shared by all of its sub-servers.
type Country struct {
	ID         int         `json:"id"`
	Image      string      `json:"image"`
	Name       string      `json:"name"`
	Platforms  Platforms   `json:"platforms"`
	Tier       string      `json:"type"`
	Status     bool        `json:"status"`
	CreatedAt  string      `json:"created_at"`
	SubServers []SubServer `json:"sub_servers"`
}

// Platforms flags which client platforms a country is served to.
type Platforms struct {
	Android bool `json:"android"`
	IOS     bool `json:"ios"`
	MacOS   bool `json:"macos"`
	Windows bool `json:"windows"`
	Linux   bool `json:"linux"`
}

// SubServer is a selectable location within a country.
type SubServer struct {
	ID       int      `json:"id"`
	ServerID int      `json:"server_id"`
	Name     string   `json:"name"`
	Status   bool     `json:"status"`
	VPSGroup VPSGroup `json:"vps_group"`
}

// VPSGroup is the pool of hosts backing a sub-server. The first host
// is authoritative for connectivity.
type VPSGroup struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Servers   []VPSHost `json:"servers"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

// VPSHost is one concrete gateway host.
type VPSHost struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	IPAddress   string  `json:"ip_address"`
	Domain      string  `json:"domain"`
	Port        int     `json:"port"`
	Status      bool    `json:"status"`
	CPUUsage    int     `json:"cpu_usage"`
	RAMUsage    int     `json:"ram_usage"`
	DiskUsage   int     `json:"disk_usage"`
	TotalMbit   float64 `json:"total_mbit_per_s"`
	HealthScore int     `json:"health_score"`
	Role        string  `json:"role"`
	CreatedAt   string  `json:"created_at"`
}

// Endpoint is one connectable entry in the flattened catalog: a
// sub-server paired with its country metadata and the authoritative
// host address. Immutable for the lifetime of one catalog load.
type Endpoint struct {
	// ID is the sub-server id; stable across catalog reloads.
	ID           int
	CountryID    int
	CountryName  string
	CountryImage string
	Tier         string
	SubName      string
	IP           string
	Domain       string
	Port         int
}

// DisplayName composes the country and location names the way the rest
// of the client labels a server.
func (e Endpoint) DisplayName() string {
	return e.CountryName + " - " + e.SubName
}

// IsPremium reports whether the endpoint requires a premium plan.
func (e Endpoint) IsPremium() bool {
	return e.Tier == common.TierPremium
}

// Flatten turns the two-level country topology into the flat endpoint
// list the catalog works with. Sub-servers whose VPS group is empty
// yield an endpoint with no address; the prober marks those failed
// without dispatching a probe.
func Flatten(countries []Country) []Endpoint {
	var endpoints []Endpoint
	for _, country := range countries {
		for _, sub := range country.SubServers {
			e := Endpoint{
				ID:           sub.ID,
				CountryID:    country.ID,
				CountryName:  country.Name,
				CountryImage: country.Image,
				Tier:         country.Tier,
				SubName:      sub.Name,
			}
			if len(sub.VPSGroup.Servers) > 0 {
				host := sub.VPSGroup.Servers[0]
				e.IP = host.IPAddress
				e.Domain = host.Domain
				e.Port = host.Port
			}
			endpoints = append(endpoints, e)
		}
	}
	return endpoints
}
