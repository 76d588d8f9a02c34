package scaler

import (
	"github.com/cloudve/clusterman/pkg/cluster"
)

// Action is what the executor should do for a decision.
type Action string

const (
	// ActionCreate provisions one node.
	ActionCreate Action = "create"
	// ActionDelete tears down one node.
	ActionDelete Action = "delete"
	// ActionNone applies nothing; Reason says why.
	ActionNone Action = "none"
)

// Reason explains a None decision. These are expected configuration
// and bounds conditions, not errors.
type Reason string

const (
	// ReasonApplied marks a Create or Delete decision.
	ReasonApplied Reason = "applied"
	// ReasonAutoscaleDisabled means the cluster-wide gate is off.
	ReasonAutoscaleDisabled Reason = "autoscale_disabled"
	// ReasonNoMatchingPolicy means zone resolution found nothing.
	ReasonNoMatchingPolicy Reason = "no_matching_policy"
	// ReasonAtMax means the policy already owns MaxNodes nodes.
	ReasonAtMax Reason = "at_max"
	// ReasonAtMin means the policy owns MinNodes or fewer nodes.
	ReasonAtMin Reason = "at_min"
)

// Decision is the engine's verdict for one signal. For Create it
// carries the VM type and zone to provision with; for Delete it names
// the node to remove.
type Decision struct {
	Action    Action
	Reason    Reason
	ClusterID string
	// Policy is nil when no policy matched.
	Policy *cluster.AutoscalerPolicy
	// VMType and Zone are set for Create decisions, after falling
	// back to the cluster defaults where the policy left them empty.
	VMType string
	Zone   string
	// Node is the scale-down candidate for Delete decisions.
	Node *cluster.Node
}
