package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/interactlab/dyadscribe/pkg/classifier"
	"github.com/interactlab/dyadscribe/pkg/store"
	"github.com/interactlab/dyadscribe/pkg/types"
)

// TagVocabulary is the DPICS-derived behaviour tag set used by PCIT coding.
// The Tag Assignment prompt constrains the classifier to these values.
var TagVocabulary = []string{
	"labeled_praise",
	"unlabeled_praise",
	"reflection",
	"behavior_description",
	"question",
	"direct_command",
	"indirect_command",
	"negative_talk",
	"neutral_talk",
}

// tagSystemPrompt frames the Tag Assignment task. The vocabulary and session
// mode are appended at call time.
const tagSystemPrompt = `You are a DPICS coder for recorded parent-child interaction therapy (PCIT) sessions.

You are given utterances from one recording. Each utterance carries an identifier, the speaker's role (child or parent), and the spoken text. Assign each utterance exactly one behaviour tag.

Allowed tags:
%s

Session mode: %s.%s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "utterance_tags": {
    "<utterance id>": "<tag>"
  }
}

Include every utterance id from the input, and no others.`

// cdiGuidance and pdiGuidance steer the coder toward the behaviours each
// PCIT phase scores.
const (
	cdiGuidance = ` In CDI, parents should follow the child's lead: attend closely to praise, reflection, and behaviour description, and flag questions and commands.`
	pdiGuidance = ` In PDI, parents practise effective direction: attend closely to direct vs. indirect commands and to the child's compliance.`
)

// runTagAssignment executes the Tag Assignment stage: classify utterances in
// bounded batches into a mapping from utterance id to tag, then apply one
// point patch per utterance. The patches target disjoint utterances, so they
// are issued concurrently; the stage is complete only when the whole batch
// has succeeded and the session's aggregate tag counts are updated from the
// persisted state.
func (o *Orchestrator) runTagAssignment(ctx context.Context, sess *types.Session, utterances []types.Utterance) error {
	known := make(map[string]bool, len(utterances))
	for _, u := range utterances {
		known[u.ID] = true
	}

	tags := make(map[string]string, len(utterances))
	for start := 0; start < len(utterances); start += o.tagBatchSize {
		end := min(start+o.tagBatchSize, len(utterances))
		batch := utterances[start:end]

		req := classifier.Request{
			SystemPrompt: buildTagSystemPrompt(sess.Mode),
			Prompt:       buildTagPrompt(batch),
			Temperature:  o.temperature,
		}

		resp, err := o.classify(ctx, StageTagAssignment, req)
		if err != nil {
			return err
		}

		result, err := decodeTagResponse(resp.Content, known)
		if err != nil {
			o.recordParseError(ctx, StageTagAssignment)
			return err
		}
		for id, tag := range result.Tags {
			tags[id] = tag
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for id, tag := range tags {
		g.Go(func() error {
			if _, err := o.store.PatchUtterance(gctx, id, store.UtterancePatch{Tag: &tag}); err != nil {
				return fmt.Errorf("patch utterance %s: %w", id, err)
			}
			o.metrics.UtterancePatches.Add(gctx, 1,
				metric.WithAttributes(attribute.String("stage", string(StageTagAssignment))))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Aggregate counts are recomputed from the persisted utterances rather
	// than the in-memory tag map, so a re-run converges on stored state.
	updated, err := o.store.GetUtterances(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("reload utterances: %w", err)
	}
	counts := make(map[string]int, len(TagVocabulary))
	for _, u := range updated {
		if u.Tag != "" {
			counts[u.Tag]++
		}
	}
	if _, err := o.store.PatchSession(ctx, sess.ID, store.SessionPatch{TagCounts: counts}); err != nil {
		return fmt.Errorf("persist tag counts: %w", err)
	}
	return nil
}

// buildTagSystemPrompt fills the tag prompt template for the session mode.
func buildTagSystemPrompt(mode types.SessionMode) string {
	var vocab strings.Builder
	for _, tag := range TagVocabulary {
		vocab.WriteString("- ")
		vocab.WriteString(tag)
		vocab.WriteByte('\n')
	}
	guidance := cdiGuidance
	if mode == types.ModePDI {
		guidance = pdiGuidance
	}
	return fmt.Sprintf(tagSystemPrompt, vocab.String(), sessionModeLabel(mode), guidance)
}

// buildTagPrompt serialises one utterance batch as id/role/text lines.
func buildTagPrompt(batch []types.Utterance) string {
	var sb strings.Builder
	sb.WriteString("Utterances:\n")
	for _, u := range batch {
		role := u.Role
		if role == "" {
			role = types.RoleUnknown
		}
		fmt.Fprintf(&sb, "%s | %s | %s\n", u.ID, role, u.Text)
	}
	return sb.String()
}
