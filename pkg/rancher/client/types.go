package client

// Node represents a node as the Rancher v3 API reports it
type Node struct {
	ID                string `json:"id"`
	Name              string `json:"name,omitempty"`
	ClusterID         string `json:"clusterId"`
	State             string `json:"state"`
	Hostname          string `json:"hostname,omitempty"`
	RequestedHostname string `json:"requestedHostname,omitempty"`
	IPAddress         string `json:"ipAddress,omitempty"`
	// Worker marks worker-role nodes; control plane nodes are never
	// autoscaled.
	Worker               bool   `json:"worker,omitempty"`
	Transitioning        string `json:"transitioning,omitempty"`
	TransitioningMessage string `json:"transitioningMessage,omitempty"`
}

// NodeCollection is the Rancher list envelope for nodes
type NodeCollection struct {
	Type string `json:"type"`
	Data []Node `json:"data"`
}

// LaunchNodeRequest asks Rancher to bring up one worker node
type LaunchNodeRequest struct {
	ClusterID         string `json:"clusterId"`
	RequestedHostname string `json:"requestedHostname"`
	// VMType is the instance flavor passed through to the node driver
	VMType string `json:"vmType,omitempty"`
	// Zone is the availability zone for placement
	Zone   string `json:"zone,omitempty"`
	Worker bool   `json:"worker"`
}

// RegistrationToken is the cluster registration token Rancher hands
// out for joining new nodes
type RegistrationToken struct {
	ID          string `json:"id,omitempty"`
	ClusterID   string `json:"clusterId"`
	Token       string `json:"token,omitempty"`
	NodeCommand string `json:"nodeCommand,omitempty"`
}

// RegistrationTokenCollection is the list envelope for tokens
type RegistrationTokenCollection struct {
	Data []RegistrationToken `json:"data"`
}

// ErrorResponse is the Rancher API error envelope
type ErrorResponse struct {
	Type    string `json:"type"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ListOptions carries optional list filters
type ListOptions struct {
	// ClusterID filters nodes to one cluster
	ClusterID string
}
