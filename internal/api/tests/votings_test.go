package api_test

import (
	"net/http"
	"testing"

	"github.com/clubhouse/meetings-server/internal/api/testutils"
	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createVoting(t *testing.T, testCtx *testutils.TestContext, meetingID string, anonymous bool) string {
	t.Helper()

	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/meetings/votings", models.CreateVotingRequest{
		MeetingID: meetingID,
		Question:  "Approve the budget?",
		Anonymous: anonymous,
		Options:   []string{"Yes", "No"},
	}, testutils.AuthHeaders(testCtx.AdminJWT))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var voting models.VotingResponse
	testutils.DecodeJSON(t, w, &voting)
	require.NotEmpty(t, voting.ID)
	return voting.ID
}

func TestCreateAndEditVoting(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	meetingID := createMeeting(t, testCtx)

	// Test case 1: Missing options
	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/meetings/votings", models.CreateVotingRequest{
		MeetingID: meetingID,
		Question:  "Approve the budget?",
	}, testutils.AuthHeaders(testCtx.AdminJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 2: Members cannot create votings
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/meetings/votings", models.CreateVotingRequest{
		MeetingID: meetingID,
		Question:  "Approve the budget?",
		Options:   []string{"Yes"},
	}, testutils.AuthHeaders(testCtx.MemberJWT))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Test case 3: Successful creation
	votingID := createVoting(t, testCtx, meetingID, false)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/meetings/votings/"+votingID, nil,
		testutils.AuthHeaders(testCtx.MemberJWT))
	require.Equal(t, http.StatusOK, w.Code)

	var voting models.VotingResponse
	testutils.DecodeJSON(t, w, &voting)
	assert.Equal(t, meetingID, voting.MeetingID)
	assert.False(t, voting.IsOpen)
	require.Len(t, voting.Options, 2)
	assert.Equal(t, 1, voting.Options[0].Index)
	assert.Equal(t, "Yes", voting.Options[0].Text)

	// Test case 4: Listed under the meeting
	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/meetings/"+meetingID+"/votings", nil,
		testutils.AuthHeaders(testCtx.MemberJWT))
	require.Equal(t, http.StatusOK, w.Code)

	var votings []models.VotingResponse
	testutils.DecodeJSON(t, w, &votings)
	require.Len(t, votings, 1)
	assert.Equal(t, votingID, votings[0].ID)

	// Test case 5: Edit while pending
	question := "Approve the revised budget?"
	w = testutils.PerformRequest(testCtx.Router, http.MethodPatch, "/meetings/votings/"+votingID,
		models.UpdateVotingRequest{Question: &question}, testutils.AuthHeaders(testCtx.AdminJWT))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutils.DecodeJSON(t, w, &voting)
	assert.Equal(t, question, voting.Question)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPatch, "/meetings/votings/"+votingID,
		models.UpdateVotingRequest{Question: &question}, testutils.AuthHeaders(testCtx.AdminJWT))
	assert.Equal(t, http.StatusConflict, w.Code)

	// Test case 6: Opening needs a meeting in session
	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, "/meetings/votings/"+votingID+"/open", nil,
		testutils.AuthHeaders(testCtx.AdminJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 7: Delete
	w = testutils.PerformRequest(testCtx.Router, http.MethodDelete, "/meetings/votings/"+votingID, nil,
		testutils.AuthHeaders(testCtx.AdminJWT))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/meetings/votings/"+votingID, nil,
		testutils.AuthHeaders(testCtx.AdminJWT))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVotingFlow(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	meetingID := createMeeting(t, testCtx)
	code := beginMeeting(t, testCtx, meetingID)
	checkIn(t, testCtx, testCtx.MemberJWT, meetingID, code)
	checkIn(t, testCtx, testCtx.OtherJWT, meetingID, code)

	votingID := createVoting(t, testCtx, meetingID, false)
	votingPath := "/meetings/votings/" + votingID

	// Test case 1: Voting before it opens
	w := testutils.PerformRequest(testCtx.Router, http.MethodPut, votingPath+"/vote/1", nil,
		testutils.AuthHeaders(testCtx.MemberJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, votingPath+"/open", nil,
		testutils.AuthHeaders(testCtx.AdminJWT))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var voting models.VotingResponse
	testutils.DecodeJSON(t, w, &voting)
	assert.True(t, voting.IsOpen)
	assert.NotNil(t, voting.StartedAt)

	// Test case 2: Malformed and unknown options
	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, votingPath+"/vote/yes", nil,
		testutils.AuthHeaders(testCtx.MemberJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, votingPath+"/vote/-1", nil,
		testutils.AuthHeaders(testCtx.MemberJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, votingPath+"/vote/7", nil,
		testutils.AuthHeaders(testCtx.MemberJWT))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Test case 3: Absent identities cannot vote
	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, votingPath+"/vote/1", nil,
		testutils.AuthHeaders(testCtx.AdminJWT))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Test case 4: One vote per identity
	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, votingPath+"/vote/1", nil,
		testutils.AuthHeaders(testCtx.MemberJWT))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, votingPath+"/vote/2", nil,
		testutils.AuthHeaders(testCtx.MemberJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, votingPath+"/vote/0", nil,
		testutils.AuthHeaders(testCtx.OtherJWT))
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Test case 5: My vote
	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, votingPath+"/my-vote", nil,
		testutils.AuthHeaders(testCtx.MemberJWT))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var myVote models.MyVoteResponse
	testutils.DecodeJSON(t, w, &myVote)
	require.NotNil(t, myVote.Index)
	assert.Equal(t, 1, *myVote.Index)

	// Test case 6: Members cannot close
	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, votingPath+"/close", nil,
		testutils.AuthHeaders(testCtx.MemberJWT))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, votingPath+"/close", nil,
		testutils.AuthHeaders(testCtx.AdminJWT))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var results models.VotingResults
	testutils.DecodeJSON(t, w, &results)
	assert.Equal(t, 2, results.TotalVotes)
	assert.False(t, results.IsOpen)
	require.Len(t, results.Options, 3)
	assert.Equal(t, 0, results.Options[0].Index)
	assert.Equal(t, 1, results.Options[0].Count)
	assert.Equal(t, 1, results.Options[1].Count)
	assert.Equal(t, 0, results.Options[2].Count)
	require.Len(t, results.Options[1].Identities, 1)
	assert.Equal(t, "Max Member", results.Options[1].Identities[0].Name)

	// Test case 7: Closed votings accept no votes and cannot close again
	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, votingPath+"/close", nil,
		testutils.AuthHeaders(testCtx.AdminJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, votingPath+"/results", nil,
		testutils.AuthHeaders(testCtx.OtherJWT))
	require.Equal(t, http.StatusOK, w.Code)
	testutils.DecodeJSON(t, w, &results)
	require.NotNil(t, results.MyVote)
	assert.Equal(t, 0, *results.MyVote)
}
