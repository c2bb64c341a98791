package activities

import (
	"go.temporal.io/sdk/activity"
)

// Registrar is the part of a Temporal worker that registers activities.
type Registrar interface {
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

func register(r Registrar, name string, fn interface{}) {
	r.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}
