package workflow

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"
)

type workflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
}

func TestCatalogWorkflow(t *testing.T) {
	suite.Run(t, new(workflowTestSuite))
}

// acts is only used so OnActivity can resolve each activity's registered
// name from a method value; its fields are never read during the test.
var acts = &Activities{}

func (s *workflowTestSuite) TestRunOrchestratesBothAgentPhasesAndReleasesTheSandbox() {
	env := s.NewTestWorkflowEnvironment()

	env.OnActivity(acts.LoadPrompts, mock.Anything).Return(
		&LoadPromptsOutput{CatalogPrompt: "catalog system prompt", SummaryPrompt: "summary system prompt"}, nil)
	env.OnActivity(acts.CheckDatabaseConnectivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(acts.AcquireSandbox, mock.Anything, mock.Anything).Return("sess-1", nil)
	env.OnActivity(acts.AssembleContext, mock.Anything, mock.Anything).Return("<html>context</html>", nil)
	env.OnActivity(acts.RunAgent, mock.Anything, mock.MatchedBy(func(in RunAgentInput) bool {
		return in.SystemPrompt == "catalog system prompt"
	})).Return(&RunAgentOutput{Content: "<html>catalog</html>", Script: "# catalog script", Iterations: 3}, nil)
	env.OnActivity(acts.RunAgent, mock.Anything, mock.MatchedBy(func(in RunAgentInput) bool {
		return in.SystemPrompt == "summary system prompt"
	})).Return(&RunAgentOutput{Content: "<html>summary</html>", Script: "# summary script", Iterations: 2}, nil)
	env.OnActivity(acts.WriteCatalogArtifact, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(acts.ResetSandbox, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(acts.WriteSummaryArtifact, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(acts.ReleaseSandbox, mock.Anything, "sess-1").Return(nil)
	env.OnActivity(acts.RecordRunOutcome, mock.Anything, mock.Anything).Return(nil)

	in := Input{DBConnectionString: "postgres://db", Tables: []string{"orders"}, Prefix: "orders"}
	env.ExecuteWorkflow(Run, in)

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())

	var out Output
	s.NoError(env.GetWorkflowResult(&out))
	s.Equal("orders", out.Prefix)
	s.Contains(out.CatalogKey, "orders/")
	s.Contains(out.CatalogKey, "catalog.html")
	s.Contains(out.SummaryKey, "recent_summary.html")

	env.AssertExpectations(s.T())
}

func (s *workflowTestSuite) TestRunReleasesTheSandboxEvenWhenTheCatalogAgentFails() {
	env := s.NewTestWorkflowEnvironment()

	env.OnActivity(acts.LoadPrompts, mock.Anything).Return(
		&LoadPromptsOutput{CatalogPrompt: "catalog system prompt", SummaryPrompt: "summary system prompt"}, nil)
	env.OnActivity(acts.CheckDatabaseConnectivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(acts.AcquireSandbox, mock.Anything, mock.Anything).Return("sess-1", nil)
	env.OnActivity(acts.AssembleContext, mock.Anything, mock.Anything).Return("<html>context</html>", nil)
	env.OnActivity(acts.RunAgent, mock.Anything, mock.Anything).Return(nil, assertError("agent blew its token budget"))
	env.OnActivity(acts.ReleaseSandbox, mock.Anything, "sess-1").Return(nil)
	env.OnActivity(acts.RecordRunOutcome, mock.Anything, mock.Anything).Return(nil)

	in := Input{DBConnectionString: "postgres://db", Tables: []string{"orders"}, Prefix: "orders"}
	env.ExecuteWorkflow(Run, in)

	s.True(env.IsWorkflowCompleted())
	s.Error(env.GetWorkflowError())
	env.AssertExpectations(s.T())
}

type assertError string

func (e assertError) Error() string { return string(e) }
