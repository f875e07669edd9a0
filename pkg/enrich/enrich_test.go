package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Sternrassler/medcat-trainer-client/internal/testutil"
	"github.com/Sternrassler/medcat-trainer-client/pkg/client"
	"github.com/Sternrassler/medcat-trainer-client/pkg/trainer"
)

var chestPain = trainer.Concept{
	ID:           1,
	CUI:          "C0008031",
	PrettyName:   "Chest pain",
	Description:  "Pain in the chest",
	TypeIDs:      "T184",
	SemanticType: "Sign or Symptom",
	Synonyms:     "thoracic pain, chest discomfort",
	ICD10:        []int{12, 7, 19},
	OPCS4:        []int{3},
}

var presence = trainer.MetaTask{ID: 1, Name: "Presence", Default: 3, Values: []int{3, 4}}

var presenceValues = []trainer.MetaTaskValue{{ID: 3, Name: "True"}, {ID: 4, Name: "False"}}

// newBackend installs a concept with three ICD-10 codes served unsorted over
// two pages.
func newBackend(t *testing.T) (*testutil.MockTrainer, *Enricher, *client.Client) {
	t.Helper()
	mock := testutil.NewMockTrainer()
	mock.SetPageSize(2)
	mock.InstallEntityLabels(map[int]string{42: chestPain.CUI, 43: "C9999999"})
	mock.InstallConcepts(chestPain)
	mock.InstallCodes(trainer.PathICDCodes,
		trainer.Code{ID: 12, Code: "B2", Description: "second"},
		trainer.Code{ID: 7, Code: "A1", Description: "first"},
		trainer.Code{ID: 19, Code: "A0", Description: "zeroth"},
	)
	mock.InstallCodes(trainer.PathOPCSCodes, trainer.Code{ID: 3, Code: "K40", Description: "bypass"})
	mock.InstallMetaTasks([]trainer.MetaTask{presence, {ID: 2, Name: "Other", Values: []int{}}}, presenceValues)

	c, err := client.New(client.DefaultConfig(mock.URL()))
	require.NoError(t, err)
	return mock, New(c, DefaultConfig()), c
}

func codeStrings(codes []trainer.Code) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = c.Code
	}
	return out
}

func TestEntity_FullPipeline(t *testing.T) {
	mock, en, c := newBackend(t)
	defer mock.Close()
	defer c.Close()
	store := mock.InstallMetaAnnotations()

	tasks := []trainer.MetaTask{presence}
	tasks[0].Options = presenceValues

	d, err := en.Entity(context.Background(), Target{EntityID: 5, EntityRefID: 42}, Options{Tasks: tasks, UseDefault: true})
	require.NoError(t, err)

	assert.Equal(t, chestPain.CUI, d.CUI)
	require.NotNil(t, d.Concept)
	assert.True(t, d.ICD10Fetched)
	assert.True(t, d.OPCS4Fetched)
	assert.Equal(t, []string{"A0", "A1", "B2"}, codeStrings(d.ICD10))
	assert.Equal(t, 2, mock.PathCount(trainer.PathICDCodes), "ICD-10 codes span two pages")
	assert.Equal(t, []string{"K40"}, codeStrings(d.OPCS4))

	require.True(t, d.MetaFetched)
	require.Len(t, d.MetaTasks, 1)
	assert.Equal(t, 3, d.MetaTasks[0].Value)
	assert.NotZero(t, d.MetaTasks[0].AnnotationID)
	assert.Equal(t, "True", d.MetaTasks[0].OptionName())

	posts := mock.Posts(trainer.PathMetaAnnotations)
	require.Len(t, posts, 1)
	assert.JSONEq(t, `{"annotated_entity": 5, "meta_task": 1, "meta_task_value": 3, "validated": true}`, string(posts[0]))
	assert.Len(t, store.All(), 1)

	var e trainer.Entity
	d.ApplyTo(&e)
	assert.Equal(t, "Chest pain", e.PrettyName)
	assert.Equal(t, "Pain in the chest", e.Description)
	assert.Equal(t, "T184", e.TypeIDs)
	assert.Equal(t, []string{"thoracic pain", "chest discomfort"}, e.Synonyms)
	assert.True(t, e.HasDetail())
	assert.Equal(t, []string{"A0", "A1", "B2"}, codeStrings(e.ICD10))
}

func TestEntity_ReEnrichKeepsOrder(t *testing.T) {
	mock, en, c := newBackend(t)
	defer mock.Close()
	defer c.Close()

	var e trainer.Entity
	for i := 0; i < 2; i++ {
		d, err := en.Entity(context.Background(), Target{EntityID: 5, EntityRefID: 42}, Options{})
		require.NoError(t, err)
		d.ApplyTo(&e)
		assert.Equal(t, []string{"A0", "A1", "B2"}, codeStrings(e.ICD10))
	}
}

func TestEntity_NoConceptMatch(t *testing.T) {
	mock, en, c := newBackend(t)
	defer mock.Close()
	defer c.Close()

	d, err := en.Entity(context.Background(), Target{EntityID: 6, EntityRefID: 43}, Options{})
	require.NoError(t, err, "no match is not a failure")

	assert.Equal(t, "C9999999", d.CUI)
	assert.Nil(t, d.Concept)
	assert.False(t, d.ICD10Fetched)
	assert.False(t, d.OPCS4Fetched)
	assert.Zero(t, mock.PathCount(trainer.PathICDCodes))

	e := trainer.Entity{ID: 6}
	d.ApplyTo(&e)
	assert.Equal(t, "C9999999", e.CUI)
	assert.False(t, e.HasDetail())
	assert.Nil(t, e.ICD10)
}

func TestEntity_CodeFailureIsPartial(t *testing.T) {
	mock, en, c := newBackend(t)
	defer mock.Close()
	defer c.Close()
	mock.SetResponse(trainer.PathOPCSCodes, testutil.NewServerErrorResponse())

	d, err := en.Entity(context.Background(), Target{EntityID: 5, EntityRefID: 42}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrNetwork)

	require.NotNil(t, d.Concept)
	assert.Equal(t, []string{"A0", "A1", "B2"}, codeStrings(d.ICD10), "the ICD-10 branch still completes")
	assert.Empty(t, d.OPCS4)
	assert.True(t, d.ICD10Fetched)
	assert.False(t, d.OPCS4Fetched)
	assert.Equal(t, 1, mock.PathCount(trainer.PathOPCSCodes), "no retry")

	e := trainer.Entity{ID: 5, OPCS4: []trainer.Code{{ID: 3, Code: "K40"}}}
	d.ApplyTo(&e)
	assert.Equal(t, "Chest pain", e.PrettyName)
	assert.True(t, e.ICD10Loaded)
	assert.False(t, e.OPCS4Loaded)
	assert.Equal(t, []string{"K40"}, codeStrings(e.OPCS4), "a failed drain leaves the previous list")
	assert.False(t, e.HasDetail(), "incomplete codes are refetched")
	assert.True(t, e.CodesIncomplete())
}

func TestEntity_LabelFailureStillFetchesMeta(t *testing.T) {
	mock, en, c := newBackend(t)
	defer mock.Close()
	defer c.Close()
	mock.InstallMetaAnnotations(trainer.MetaAnnotation{ID: 9, AnnotatedEntity: 7, MetaTask: 1, MetaTaskValue: 4, Validated: true})

	d, err := en.Entity(context.Background(), Target{EntityID: 7, EntityRefID: 404}, Options{Tasks: []trainer.MetaTask{presence}, UseDefault: true})
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err))

	assert.Empty(t, d.CUI)
	assert.Nil(t, d.Concept)
	require.True(t, d.MetaFetched)
	assert.Equal(t, 4, d.MetaTasks[0].Value)
	assert.Equal(t, 9, d.MetaTasks[0].AnnotationID)
	assert.Empty(t, mock.Posts(trainer.PathMetaAnnotations), "saved value wins over the default")
}

func TestConcept_EmptyResultSet(t *testing.T) {
	mock, en, c := newBackend(t)
	defer mock.Close()
	defer c.Close()

	_, err := en.Concept(context.Background(), "C0000000")
	assert.ErrorIs(t, err, ErrEmptyResultSet)
}

func TestCodes_NoIDsNoRequest(t *testing.T) {
	mock, en, c := newBackend(t)
	defer mock.Close()
	defer c.Close()

	codes, err := en.ICD10Codes(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, codes)
	assert.Zero(t, mock.GetRequestCount())
}

func TestOPCS4Codes(t *testing.T) {
	mock, en, c := newBackend(t)
	defer mock.Close()
	defer c.Close()

	codes, err := en.OPCS4Codes(context.Background(), []int{3})
	require.NoError(t, err)
	assert.Equal(t, []string{"K40 | bypass"}, []string{codes[0].String()})
	assert.Equal(t, []string{"GET /api/opcs-codes/?id__in=3"}, mock.Requests())
}

func TestEntity_LeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)

	mock, en, c := newBackend(t)
	defer mock.Close()
	defer c.Close()
	mock.InstallMetaAnnotations()

	_, err := en.Entity(context.Background(), Target{EntityID: 5, EntityRefID: 42}, Options{Tasks: []trainer.MetaTask{presence}, UseDefault: true})
	require.NoError(t, err)
}

func TestDetail_ApplyToLeavesUnfetchedFields(t *testing.T) {
	e := trainer.Entity{
		ID:         1,
		CUI:        "C1",
		PrettyName: "kept",
		ICD10:      []trainer.Code{{Code: "Z9"}},
		MetaTasks:  []trainer.TaskValue{{Value: 4}},
	}
	d := Detail{EntityID: 1}
	d.ApplyTo(&e)

	assert.Equal(t, "C1", e.CUI)
	assert.Equal(t, "kept", e.PrettyName)
	assert.Len(t, e.ICD10, 1)
	assert.Len(t, e.MetaTasks, 1)
}

func TestEntity_CancelledContext(t *testing.T) {
	mock, en, c := newBackend(t)
	defer mock.Close()
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := en.Entity(ctx, Target{EntityID: 5, EntityRefID: 42}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, mock.PathCount(trainer.EntityURL(42)))
}
