package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/interactlab/dyadscribe/pkg/classifier"
	"github.com/interactlab/dyadscribe/pkg/store"
	"github.com/interactlab/dyadscribe/pkg/types"
)

// roleSystemPrompt frames the Role Identification task. The session mode and
// language are appended at call time.
const roleSystemPrompt = `You are an analyst of recorded parent-child interaction therapy (PCIT) sessions.

You are given conversation turns from one recording. Each turn carries a diarization speaker label (e.g. "speaker_0"), a time range in seconds, and the spoken text. Diarization labels are arbitrary — your task is to identify which physical role each speaker label belongs to.

Rules:
- Assign each speaker label exactly one role: CHILD or PARENT. Use UNKNOWN only when the turns give no usable signal.
- Judge from content and style: vocabulary complexity, directives vs. compliance, caregiving language, play narration.
- Include every speaker label that appears in the input, and no others.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "speaker_identification": {
    "<speaker label>": {"role": "CHILD", "confidence": <0.0-1.0>}
  }
}`

// runRoleIdentification executes the Role Identification stage: classify a
// bounded sample of the earliest utterances, persist the raw result on the
// session, then patch every utterance of each classified speaker with its
// lower-cased role.
//
// The per-speaker patches touch disjoint utterance sets partitioned by
// speaker id, so they are issued concurrently; the stage is complete only
// when the session patch and all per-speaker patches have succeeded.
func (o *Orchestrator) runRoleIdentification(ctx context.Context, sess *types.Session, utterances []types.Utterance) error {
	sample := utterances
	if len(sample) > o.roleSampleSize {
		sample = sample[:o.roleSampleSize]
	}

	req := classifier.Request{
		SystemPrompt: roleSystemPrompt,
		Prompt:       buildRolePrompt(sess, sample),
		Temperature:  o.temperature,
	}

	resp, err := o.classify(ctx, StageRoleIdentification, req)
	if err != nil {
		return err
	}

	result, raw, err := decodeRoleResponse(resp.Content)
	if err != nil {
		o.recordParseError(ctx, StageRoleIdentification)
		return err
	}

	// The session record carries the raw classification result; it is written
	// before the utterance patches so a retry that re-classifies always
	// supersedes both together.
	if _, err := o.store.PatchSession(ctx, sess.ID, store.SessionPatch{
		RoleIdentificationJSON: &raw,
	}); err != nil {
		return fmt.Errorf("persist role identification: %w", err)
	}

	speakers := make([]string, 0, len(result.Speakers))
	for id := range result.Speakers {
		speakers = append(speakers, id)
	}
	sort.Strings(speakers)

	g, gctx := errgroup.WithContext(ctx)
	for _, speakerID := range speakers {
		role := types.Role(strings.ToLower(result.Speakers[speakerID].Role))
		g.Go(func() error {
			n, err := o.store.PatchUtterancesBySpeaker(gctx, sess.ID, speakerID, store.UtterancePatch{
				Role: &role,
			})
			if err != nil {
				return fmt.Errorf("patch speaker %s: %w", speakerID, err)
			}
			o.metrics.UtterancePatches.Add(gctx, n,
				metric.WithAttributes(attribute.String("stage", string(StageRoleIdentification))))
			o.logger.Debug("assigned speaker role",
				"session_id", sess.ID,
				"speaker_id", speakerID,
				"role", role,
				"utterances", n,
			)
			return nil
		})
	}
	return g.Wait()
}

// buildRolePrompt serialises the utterance sample as speaker/time/text lines.
func buildRolePrompt(sess *types.Session, sample []types.Utterance) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session mode: %s\n", sessionModeLabel(sess.Mode))
	if sess.Language != "" {
		fmt.Fprintf(&sb, "Language: %s\n", sess.Language)
	}
	sb.WriteString("\nTurns:\n")
	for _, u := range sample {
		fmt.Fprintf(&sb, "[%.1f-%.1f] %s: %s\n", u.StartTime, u.EndTime, u.SpeakerID, u.Text)
	}
	return sb.String()
}
