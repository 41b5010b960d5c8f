package worker

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
)

// Field names of the Execute request and response structs.
const (
	fieldSessionID = "session_id"
	fieldRunID     = "run_id"
	fieldRequest   = "request"
	fieldStepID    = "step_id"
	fieldStepLabel = "step_label"
	fieldStepIndex = "step_index"
	fieldTotal     = "total"
	fieldNotes     = "notes"
	fieldContent   = "content"
	fieldKind      = "kind"
)

func encodeStepContext(sc pipeline.StepContext) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldSessionID: sc.SessionID,
		fieldRunID:     sc.RunID,
		fieldRequest:   sc.Request,
		fieldStepID:    sc.Step.ID,
		fieldStepLabel: sc.Step.Label,
		fieldStepIndex: sc.Step.Index,
		fieldTotal:     sc.Total,
	})
}

func decodeStepContext(s *structpb.Struct) (pipeline.StepContext, error) {
	f := s.GetFields()
	stepID := f[fieldStepID].GetStringValue()
	if stepID == "" {
		return pipeline.StepContext{}, fmt.Errorf("missing %s", fieldStepID)
	}
	return pipeline.StepContext{
		SessionID: f[fieldSessionID].GetStringValue(),
		RunID:     f[fieldRunID].GetStringValue(),
		Request:   f[fieldRequest].GetStringValue(),
		Step: models.Step{
			ID:     stepID,
			Label:  f[fieldStepLabel].GetStringValue(),
			Index:  int(f[fieldStepIndex].GetNumberValue()),
			Status: models.StepActive,
		},
		Total: int(f[fieldTotal].GetNumberValue()),
	}, nil
}

func encodeOutcome(o pipeline.Outcome) (*structpb.Struct, error) {
	notes := make([]any, 0, len(o.Notes))
	for _, n := range o.Notes {
		notes = append(notes, map[string]any{
			fieldContent: n.Content,
			fieldKind:    string(n.Kind),
		})
	}
	return structpb.NewStruct(map[string]any{fieldNotes: notes})
}

func decodeOutcome(s *structpb.Struct) (pipeline.Outcome, error) {
	values := s.GetFields()[fieldNotes].GetListValue().GetValues()
	notes := make([]pipeline.Note, 0, len(values))
	for i, v := range values {
		obj := v.GetStructValue()
		if obj == nil {
			return pipeline.Outcome{}, fmt.Errorf("note %d is not an object", i)
		}
		kind := models.ContentKind(obj.GetFields()[fieldKind].GetStringValue())
		if kind == "" {
			kind = models.KindText
		}
		if !kind.IsValid() {
			return pipeline.Outcome{}, fmt.Errorf("note %d has unknown kind %q", i, kind)
		}
		notes = append(notes, pipeline.Note{
			Content: obj.GetFields()[fieldContent].GetStringValue(),
			Kind:    kind,
		})
	}
	return pipeline.Outcome{Notes: notes}, nil
}
