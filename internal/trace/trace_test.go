package trace

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanCommitmentsDetectsDeliveryVerbNearNoun(t *testing.T) {
	tags := ScanCommitments("please email the trip links to my wife")
	assert.Contains(t, tags, CommitSendEmail)
	assert.Contains(t, tags, CommitAttachDocuments)
}

func TestScanCommitmentsNoFalsePositiveOnUnrelatedText(t *testing.T) {
	tags := ScanCommitments("what files are duplicated?")
	assert.Empty(t, tags)
}

func TestMergeCommitmentsUnionsAndDedupes(t *testing.T) {
	merged := MergeCommitments(
		[]CommitmentTag{CommitSendEmail, CommitAttachDocuments},
		[]CommitmentTag{CommitAttachDocuments, CommitScheduleEvent},
	)
	assert.ElementsMatch(t, []CommitmentTag{CommitSendEmail, CommitAttachDocuments, CommitScheduleEvent}, merged)
}

func TestTraceAddAndUpdateEntry(t *testing.T) {
	tr := New("interaction-1")
	id := tr.AddEntry(StageExecution, "calling search", "search", nil, nil, nil)
	require.NotEmpty(t, id)

	tr.UpdateEntry(id, OutcomeSuccess, nil, []string{"got 3 results"}, nil)

	entries := tr.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, []string{"got 3 results"}, entries[0].Evidence)
}

func TestTraceFreezeStopsMutation(t *testing.T) {
	tr := New("interaction-2")
	id := tr.AddEntry(StageExecution, "thought", "tool", nil, nil, nil)
	tr.Freeze()

	assert.Empty(t, tr.AddEntry(StageExecution, "ignored", "tool", nil, nil, nil))
	tr.UpdateEntry(id, OutcomeSuccess, nil, nil, nil)
	assert.Equal(t, OutcomePending, tr.Entries()[0].Outcome)
}

func TestTraceSummarizeUnionsCommitmentsAndCountsAttempts(t *testing.T) {
	tr := New("interaction-3")
	tr.AddEntry(StageExecution, "a", "search", nil, []CommitmentTag{CommitSendEmail}, nil)
	tr.AddEntry(StageExecution, "b", "compose_email", nil, []CommitmentTag{CommitSendEmail, CommitAttachDocuments}, nil)

	s := tr.Summarize()
	assert.Equal(t, 2, s.PastAttempts)
	assert.ElementsMatch(t, []CommitmentTag{CommitSendEmail, CommitAttachDocuments}, s.Commitments)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	tr := New("session-a")
	tr.AddEntry(StageExecution, "thought", "search", nil, nil, nil)
	entries := tr.Entries()
	require.NoError(t, store.Append("session-a", entries))

	loaded, err := store.Load("session-a")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, entries[0].ID, loaded[0].ID)
}

func TestFileStoreDiscardsCorruptTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Append("session-b", []*Entry{{ID: "e1", Stage: StageExecution}}))

	f, err := os.OpenFile(store.path("session-b"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	loaded, err := store.Load("session-b")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "e1", loaded[0].ID)
}
