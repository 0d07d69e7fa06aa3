package reconcile

// Reconciliation step names, in the order the create path runs them.
const (
	StepLookup       = "lookup"
	StepDependencies = "dependencies"
	StepCreate       = "create"
	StepConfig       = "config"
	StepRoles        = "roles"
	StepDeploy       = "deploy"
	StepBootstrap    = "bootstrap"
	StepStart        = "start"
	StepStop         = "stop"
	StepDelete       = "delete"
	StepDone         = "done"
)

// Progress is one step announcement during a reconciliation run.
type Progress struct {
	Step    string `json:"step"`
	Service string `json:"service"`
	Message string `json:"message"`
}

// Notifier receives progress events. Implementations must not block for
// long; the reconciler calls them inline.
type Notifier interface {
	Notify(Progress)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Progress)

func (f NotifierFunc) Notify(p Progress) { f(p) }

type nopNotifier struct{}

func (nopNotifier) Notify(Progress) {}
