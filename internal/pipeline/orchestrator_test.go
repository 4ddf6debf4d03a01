package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/interactlab/dyadscribe/pkg/classifier"
	classifiermock "github.com/interactlab/dyadscribe/pkg/classifier/mock"
	"github.com/interactlab/dyadscribe/pkg/store"
	storemock "github.com/interactlab/dyadscribe/pkg/store/mock"
	"github.com/interactlab/dyadscribe/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const roleResponse = `{"speaker_identification":{` +
	`"speaker_0":{"role":"CHILD","confidence":0.95},` +
	`"speaker_1":{"role":"PARENT","confidence":0.9}}}`

func newSessionStore() *storemock.Store {
	st := storemock.New()
	st.Sessions["sess-1"] = &types.Session{ID: "sess-1", Mode: types.ModeCDI, Language: "zh-CN"}
	st.Utterances = []types.Utterance{
		{ID: "utt-1", SessionID: "sess-1", SpeakerID: "speaker_0", Text: "妈妈来了。", StartTime: 0.0, EndTime: 1.1},
		{ID: "utt-2", SessionID: "sess-1", SpeakerID: "speaker_1", Text: "Good job!", StartTime: 1.2, EndTime: 1.9},
		{ID: "utt-3", SessionID: "sess-1", SpeakerID: "speaker_0", Text: "你看！", StartTime: 2.0, EndTime: 2.5},
	}
	return st
}

func newOrchestrator(t *testing.T, st store.Store, cl classifier.Provider, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(st, cl, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return o
}

// ── Role Identification ──────────────────────────────────────────────────────

func TestRoleIdentificationAssignsRoles(t *testing.T) {
	t.Parallel()

	st := newSessionStore()
	cl := &classifiermock.Provider{
		Response: &classifier.Response{Content: "```json\n" + roleResponse + "\n```"},
	}
	o := newOrchestrator(t, st, cl)

	if err := o.RunStage(context.Background(), "sess-1", StageRoleIdentification); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	utts, _ := st.GetUtterances(context.Background(), "sess-1")
	for _, u := range utts {
		switch u.SpeakerID {
		case "speaker_0":
			if u.Role != types.RoleChild {
				t.Fatalf("want role child on %s, got %q", u.ID, u.Role)
			}
		case "speaker_1":
			if u.Role != types.RoleParent {
				t.Fatalf("want role parent on %s, got %q", u.ID, u.Role)
			}
		}
	}

	sess, _ := st.GetSession(context.Background(), "sess-1")
	if sess.RoleIdentificationJSON != roleResponse {
		t.Fatalf("session raw result not persisted: %q", sess.RoleIdentificationJSON)
	}
}

func TestRoleIdentificationIsIdempotent(t *testing.T) {
	t.Parallel()

	st := newSessionStore()
	cl := &classifiermock.Provider{
		Response: &classifier.Response{Content: roleResponse},
	}
	o := newOrchestrator(t, st, cl)

	ctx := context.Background()
	if err := o.RunStage(ctx, "sess-1", StageRoleIdentification); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, _ := st.GetUtterances(ctx, "sess-1")

	if err := o.RunStage(ctx, "sess-1", StageRoleIdentification); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, _ := st.GetUtterances(ctx, "sess-1")

	for i := range first {
		if first[i].Role != second[i].Role {
			t.Fatalf("roles diverged after re-run: %+v vs %+v", first[i], second[i])
		}
	}
	if cl.CallCount() != 2 {
		t.Fatalf("want 2 classification calls, got %d", cl.CallCount())
	}
}

func TestRoleIdentificationSamplesEarliestUtterances(t *testing.T) {
	t.Parallel()

	st := newSessionStore()
	cl := &classifiermock.Provider{
		Response: &classifier.Response{Content: roleResponse},
	}
	o := newOrchestrator(t, st, cl, WithRoleSampleSize(1))

	if err := o.RunStage(context.Background(), "sess-1", StageRoleIdentification); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prompt := cl.Calls[0].Req.Prompt
	if !strings.Contains(prompt, "妈妈来了。") {
		t.Fatalf("earliest utterance missing from prompt:\n%s", prompt)
	}
	if strings.Contains(prompt, "Good job!") {
		t.Fatalf("sample exceeded configured size:\n%s", prompt)
	}
}

func TestRoleIdentificationUpstreamFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	st := newSessionStore()
	cl := &classifiermock.Provider{Err: errors.New("status 503")}
	o := newOrchestrator(t, st, cl)

	err := o.RunStage(context.Background(), "sess-1", StageRoleIdentification)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("want ErrUpstream, got %v", err)
	}
	if st.PatchSessionCalls != 0 || st.PatchBySpeakerCalls != 0 {
		t.Fatal("failed stage must not patch persisted state")
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("want *StageError, got %T", err)
	}
	if stageErr.SessionID != "sess-1" || stageErr.Stage != StageRoleIdentification {
		t.Fatalf("stage error missing context: %+v", stageErr)
	}
}

func TestRoleIdentificationParseFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	st := newSessionStore()
	cl := &classifiermock.Provider{
		Response: &classifier.Response{Content: "sorry, I cannot help with that"},
	}
	o := newOrchestrator(t, st, cl)

	err := o.RunStage(context.Background(), "sess-1", StageRoleIdentification)
	if !errors.Is(err, ErrResponseParse) {
		t.Fatalf("want ErrResponseParse, got %v", err)
	}
	if st.PatchSessionCalls != 0 || st.PatchBySpeakerCalls != 0 {
		t.Fatal("failed stage must not patch persisted state")
	}
}

func TestRoleIdentificationFailsWhenAnyPatchFails(t *testing.T) {
	t.Parallel()

	st := newSessionStore()
	st.PatchBySpeakerErr = map[string]error{"speaker_1": errors.New("connection reset")}
	cl := &classifiermock.Provider{
		Response: &classifier.Response{Content: roleResponse},
	}
	o := newOrchestrator(t, st, cl)

	if err := o.RunStage(context.Background(), "sess-1", StageRoleIdentification); err == nil {
		t.Fatal("want stage failure when one patch in the batch fails")
	}
}

// ── Tag Assignment ───────────────────────────────────────────────────────────

func TestTagAssignmentPatchesEachUtterance(t *testing.T) {
	t.Parallel()

	st := newSessionStore()
	cl := &classifiermock.Provider{
		Response: &classifier.Response{Content: `{"utterance_tags":{` +
			`"utt-1":"neutral_talk","utt-2":"labeled_praise","utt-3":"question"}}`},
	}
	o := newOrchestrator(t, st, cl)

	if err := o.RunStage(context.Background(), "sess-1", StageTagAssignment); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	utts, _ := st.GetUtterances(context.Background(), "sess-1")
	want := map[string]string{"utt-1": "neutral_talk", "utt-2": "labeled_praise", "utt-3": "question"}
	for _, u := range utts {
		if u.Tag != want[u.ID] {
			t.Fatalf("want tag %q on %s, got %q", want[u.ID], u.ID, u.Tag)
		}
	}

	sess, _ := st.GetSession(context.Background(), "sess-1")
	if sess.TagCounts["neutral_talk"] != 1 || sess.TagCounts["labeled_praise"] != 1 || sess.TagCounts["question"] != 1 {
		t.Fatalf("unexpected tag counts: %+v", sess.TagCounts)
	}
}

func TestTagAssignmentBatchesRequests(t *testing.T) {
	t.Parallel()

	st := newSessionStore()
	cl := &classifiermock.Provider{
		Queue: []classifiermock.Completion{
			{Response: &classifier.Response{Content: `{"utterance_tags":{"utt-1":"neutral_talk","utt-2":"labeled_praise"}}`}},
			{Response: &classifier.Response{Content: `{"utterance_tags":{"utt-3":"question"}}`}},
		},
	}
	o := newOrchestrator(t, st, cl, WithTagBatchSize(2))

	if err := o.RunStage(context.Background(), "sess-1", StageTagAssignment); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cl.CallCount() != 2 {
		t.Fatalf("want 2 classification calls for 3 utterances at batch size 2, got %d", cl.CallCount())
	}
}

func TestRoleRerunPreservesTags(t *testing.T) {
	t.Parallel()

	st := newSessionStore()
	cl := &classifiermock.Provider{
		Queue: []classifiermock.Completion{
			{Response: &classifier.Response{Content: `{"utterance_tags":{` +
				`"utt-1":"neutral_talk","utt-2":"labeled_praise","utt-3":"question"}}`}},
			{Response: &classifier.Response{Content: roleResponse}},
		},
	}
	o := newOrchestrator(t, st, cl)

	ctx := context.Background()
	if err := o.RunStage(ctx, "sess-1", StageTagAssignment); err != nil {
		t.Fatalf("tag stage: %v", err)
	}
	if err := o.RunStage(ctx, "sess-1", StageRoleIdentification); err != nil {
		t.Fatalf("role stage: %v", err)
	}

	utts, _ := st.GetUtterances(ctx, "sess-1")
	for _, u := range utts {
		if u.Tag == "" {
			t.Fatalf("role re-run erased tag on %s", u.ID)
		}
		if u.Role == "" {
			t.Fatalf("role re-run failed to set role on %s", u.ID)
		}
	}
}

// ── Preconditions and Run ────────────────────────────────────────────────────

func TestRunStageFailsFastOnEmptyUtterances(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	st.Sessions["sess-1"] = &types.Session{ID: "sess-1", Mode: types.ModeCDI}
	cl := &classifiermock.Provider{}
	o := newOrchestrator(t, st, cl)

	err := o.RunStage(context.Background(), "sess-1", StageRoleIdentification)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("want ErrEmptyInput, got %v", err)
	}
	if cl.CallCount() != 0 {
		t.Fatal("no network call may happen before precondition checks")
	}
}

func TestRunStageFailsFastOnMissingSession(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	cl := &classifiermock.Provider{}
	o := newOrchestrator(t, st, cl)

	err := o.RunStage(context.Background(), "ghost", StageRoleIdentification)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want store.ErrNotFound, got %v", err)
	}
	if cl.CallCount() != 0 {
		t.Fatal("no network call may happen before precondition checks")
	}
}

func TestRunStageFailsFastWithoutClassifier(t *testing.T) {
	t.Parallel()

	st := newSessionStore()
	o := newOrchestrator(t, st, nil)

	err := o.RunStage(context.Background(), "sess-1", StageRoleIdentification)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("want ErrNotConfigured, got %v", err)
	}
}

func TestRunStageRejectsUnknownStage(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, newSessionStore(), &classifiermock.Provider{})

	err := o.RunStage(context.Background(), "sess-1", Stage("downstream_scoring"))
	if !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("want ErrUnknownStage, got %v", err)
	}
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	t.Parallel()

	st := newSessionStore()
	cl := &classifiermock.Provider{
		Queue: []classifiermock.Completion{
			{Response: &classifier.Response{Content: roleResponse}},
			{Response: &classifier.Response{Content: `{"utterance_tags":{` +
				`"utt-1":"neutral_talk","utt-2":"labeled_praise","utt-3":"question"}}`}},
		},
	}
	o := newOrchestrator(t, st, cl)

	if err := o.Run(context.Background(), "sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	utts, _ := st.GetUtterances(context.Background(), "sess-1")
	for _, u := range utts {
		if u.Role == "" || u.Tag == "" {
			t.Fatalf("utterance %s incomplete after full run: %+v", u.ID, u)
		}
	}

	// The first call must be Role Identification: its prompt carries turns,
	// the tag prompt carries utterance ids.
	if !strings.Contains(cl.Calls[0].Req.Prompt, "speaker_0") {
		t.Fatalf("first call is not role identification:\n%s", cl.Calls[0].Req.Prompt)
	}
	if !strings.Contains(cl.Calls[1].Req.Prompt, "utt-1") {
		t.Fatalf("second call is not tag assignment:\n%s", cl.Calls[1].Req.Prompt)
	}
}

func TestRunStopsAtFirstFailedStage(t *testing.T) {
	t.Parallel()

	st := newSessionStore()
	cl := &classifiermock.Provider{Err: errors.New("status 500")}
	o := newOrchestrator(t, st, cl)

	err := o.Run(context.Background(), "sess-1")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("want ErrUpstream, got %v", err)
	}
	if cl.CallCount() != 1 {
		t.Fatalf("want pipeline to stop after first failed stage, got %d calls", cl.CallCount())
	}
}
