package agent

// Tool names recognized by the loop. The agent is deliberately given only
// these two: a sandboxed REPL and a terminal submission call.
const (
	ToolExecuteCode    = "execute_code"
	ToolSubmitArtifact = "submit_artifact"
)

// ToolSchemas returns the fixed two-tool configuration advertised to the
// model on every iteration.
func ToolSchemas() []ToolDefinition {
	return []ToolDefinition{
		{
			Name: ToolExecuteCode,
			Description: "Execute code in a persistent session. State persists across calls, like a REPL. " +
				"Returns a single combined output stream: expression results, print output, and errors. " +
				"Available libraries: ibis, boto3, polars, pandas. " +
				"Environment variables: DB_CONNECTION_STRING, AWS_* for object-store access, S3_BUCKET.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code": map[string]any{
						"type":        "string",
						"description": "Code to execute",
					},
				},
				"required": []string{"code"},
			},
		},
		{
			Name: ToolSubmitArtifact,
			Description: "Submit the final HTML report. This terminates the agent loop. " +
				"The HTML should be a complete, self-contained document with inline CSS. " +
				"Keep tables to roughly 20 rows for readability.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{
						"type":        "string",
						"description": "Complete HTML document",
					},
				},
				"required": []string{"content"},
			},
		},
	}
}
