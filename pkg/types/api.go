package types

// VoterRequest asks the raft leader to add a manager
type VoterRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// ClusterImbalance is one cluster's score. Score is -1 when undefined.
type ClusterImbalance struct {
	Cluster string  `json:"cluster"`
	Score   float64 `json:"score"`
	Defined bool    `json:"defined"`
}

// RaftStatus describes the raft cluster as seen from one manager
type RaftStatus struct {
	Leader  bool                   `json:"leader"`
	Stats   map[string]interface{} `json:"stats"`
	Servers []RaftServer           `json:"servers"`
}

// RaftServer is one member of the raft configuration
type RaftServer struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Suffrage string `json:"suffrage"`
}
