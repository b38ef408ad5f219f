package workflow

import (
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	sdkworkflow "go.temporal.io/sdk/workflow"
)

// RegisterWith registers the catalog workflow and every activity method on
// acts with w, under their default Temporal-assigned names.
func RegisterWith(w worker.Worker, acts *Activities) {
	w.RegisterWorkflowWithOptions(Run, sdkworkflow.RegisterOptions{Name: Name})
	w.RegisterActivity(acts.LoadPrompts)
	w.RegisterActivity(acts.CheckDatabaseConnectivity)
	w.RegisterActivity(acts.AcquireSandbox)
	w.RegisterActivity(acts.AssembleContext)
	w.RegisterActivity(acts.RunAgent)
	w.RegisterActivity(acts.ResetSandbox)
	w.RegisterActivity(acts.ReleaseSandbox)
	w.RegisterActivity(acts.WriteCatalogArtifact)
	w.RegisterActivity(acts.WriteSummaryArtifact)
	w.RegisterActivity(acts.RecordRunOutcome)
}

// NewClient dials the Temporal frontend at hostPort under namespace.
func NewClient(hostPort, namespace string) (client.Client, error) {
	return client.Dial(client.Options{HostPort: hostPort, Namespace: namespace})
}
