package domain

// PortAllocation binds a worker port to the proxy location that requested it. Location ids
// are only unique within a server, so both ids identify the location.
type PortAllocation struct {
	ServerID   string `json:"serverId"`
	LocationID string `json:"locationId"`
	Port       int    `json:"port"`
}

// Allocation is the set of worker resources reserved for one deployment.
type Allocation struct {
	Ports       []PortAllocation
	Directories map[string]string
}

// PortFor returns the port allocated to a server's location.
func (a Allocation) PortFor(serverID, locationID string) (int, bool) {
	for _, p := range a.Ports {
		if p.ServerID == serverID && p.LocationID == locationID {
			return p.Port, true
		}
	}
	return 0, false
}
