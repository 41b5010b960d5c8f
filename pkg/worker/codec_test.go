package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
)

func TestStepContextCodec(t *testing.T) {
	sc := pipeline.StepContext{
		SessionID: "s1",
		RunID:     "r1",
		Request:   "build a todo app",
		Step:      models.Step{ID: "implement", Label: "Write Code", Index: 2, Status: models.StepActive},
		Total:     4,
	}

	encoded, err := encodeStepContext(sc)
	require.NoError(t, err)
	decoded, err := decodeStepContext(encoded)
	require.NoError(t, err)
	assert.Equal(t, sc, decoded)
}

func TestDecodeStepContextRequiresStepID(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"run_id": "r1"})
	require.NoError(t, err)

	_, err = decodeStepContext(s)
	assert.ErrorContains(t, err, "step_id")
}

func TestDecodeOutcome(t *testing.T) {
	tests := []struct {
		name    string
		in      map[string]any
		want    []pipeline.Note
		wantErr string
	}{
		{
			name: "kinds preserved and defaulted",
			in: map[string]any{"notes": []any{
				map[string]any{"content": "text note"},
				map[string]any{"content": "func main() {}", "kind": "code"},
			}},
			want: []pipeline.Note{
				{Content: "text note", Kind: models.KindText},
				{Content: "func main() {}", Kind: models.KindCode},
			},
		},
		{
			name: "no notes",
			in:   map[string]any{},
			want: []pipeline.Note{},
		},
		{
			name:    "note not an object",
			in:      map[string]any{"notes": []any{"bare string"}},
			wantErr: "not an object",
		},
		{
			name:    "unknown kind",
			in:      map[string]any{"notes": []any{map[string]any{"content": "x", "kind": "html"}}},
			wantErr: "unknown kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := structpb.NewStruct(tt.in)
			require.NoError(t, err)

			out, err := decodeOutcome(s)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Notes)
		})
	}
}

func TestEncodeOutcome(t *testing.T) {
	s, err := encodeOutcome(pipeline.Outcome{Notes: []pipeline.Note{{Content: "hi", Kind: models.KindStatus}}})
	require.NoError(t, err)

	out, err := decodeOutcome(s)
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Note{{Content: "hi", Kind: models.KindStatus}}, out.Notes)
}
