package config

import (
	"time"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

// builtinStepDelay is the simulated work time of each built-in step.
const builtinStepDelay = 1500 * time.Millisecond

// BuiltinPipeline returns the reference four-step pipeline used when no
// autodeploy.yaml is present. Every call returns a fresh copy.
func BuiltinPipeline() *PipelineConfig {
	return &PipelineConfig{
		Steps: []StepConfig{
			{
				ID:     "analyze",
				Label:  "Analyze Request",
				Worker: WorkerTypeDelay,
				Delay:  builtinStepDelay,
				Narration: []NarrationConfig{
					{Content: "Parsed the request and identified the application requirements.", Kind: models.KindText},
				},
			},
			{
				ID:     "design",
				Label:  "Generate Architecture",
				Worker: WorkerTypeDelay,
				Delay:  builtinStepDelay,
				Narration: []NarrationConfig{
					{Content: "Drafted a single-page frontend backed by a serverless API and a key-value store.", Kind: models.KindText},
				},
			},
			{
				ID:     "implement",
				Label:  "Write Code",
				Worker: WorkerTypeDelay,
				Delay:  builtinStepDelay,
				Narration: []NarrationConfig{
					{Content: "Generated the application source.", Kind: models.KindText},
					{Content: "export default {\n  async fetch(request) {\n    return new Response(\"ok\");\n  },\n};", Kind: models.KindCode},
				},
			},
			{
				ID:     "deploy",
				Label:  "Deploy to Edge",
				Worker: WorkerTypeDelay,
				Delay:  builtinStepDelay,
				Narration: []NarrationConfig{
					{Content: "Uploaded the bundle and propagated it to edge locations.", Kind: models.KindText},
				},
			},
		},
	}
}
