// internal/handlers/ranked_test.go
package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/skirmish-gg/skirmish/internal/models"
)

// newSession mints an identity and bearer token through the API itself.
func newSession(t *testing.T, ts string, username string) (playerID, token string) {
	t.Helper()
	resp, body := postJSON(t, ts+"/api/session", "", map[string]string{"username": username})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session status %d: %s", resp.StatusCode, body)
	}
	var out map[string]string
	decode(t, body, &out)
	if out["playerId"] == "" || out["token"] == "" {
		t.Fatalf("incomplete session response: %s", body)
	}
	return out["playerId"], out["token"]
}

type ticketResponse struct {
	Ticket models.RankedTicket `json:"ticket"`
}

func queueUp(t *testing.T, ts, token string, mmr float64) models.RankedTicket {
	t.Helper()
	resp, body := postJSON(t, ts+"/api/ranked/queue", token, map[string]interface{}{
		"mmr": mmr,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("queue join status %d: %s", resp.StatusCode, body)
	}
	var out ticketResponse
	decode(t, body, &out)
	return out.Ticket
}

func TestRankedQueueRequiresAuth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := postJSON(t, ts.URL+"/api/ranked/queue", "", map[string]interface{}{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated queue join must be 401, got %d", resp.StatusCode)
	}

	resp, _ = postJSON(t, ts.URL+"/api/ranked/queue", "not-a-jwt", map[string]interface{}{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token must be 401, got %d", resp.StatusCode)
	}
}

func TestRankedQueueRejectsSpoofedPlayer(t *testing.T) {
	ts, _ := newTestServer(t)
	_, token := newSession(t, ts.URL, "mallory")

	resp, _ := postJSON(t, ts.URL+"/api/ranked/queue", token, map[string]interface{}{
		"playerId": "someone-else",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("claiming another playerId must be 403, got %d", resp.StatusCode)
	}
}

func TestRankedQueueJoinDefaults(t *testing.T) {
	ts, _ := newTestServer(t)
	playerID, token := newSession(t, ts.URL, "p1")

	ticket := queueUp(t, ts.URL, token, 0)
	if ticket.PlayerID != playerID {
		t.Fatalf("ticket bound to wrong player: %+v", ticket)
	}
	if ticket.Mode != models.ModeDuel || ticket.Region != "Global" {
		t.Fatalf("mode/region defaults not applied: %+v", ticket)
	}
	if ticket.Status != models.TicketQueued {
		t.Fatalf("fresh ticket must be Queued, got %s", ticket.Status)
	}
}

func TestRankedTicketPollAndCancel(t *testing.T) {
	ts, _ := newTestServer(t)
	_, token := newSession(t, ts.URL, "p1")
	ticket := queueUp(t, ts.URL, token, 1500)

	var out ticketResponse
	resp := getJSON(t, ts.URL+"/api/ranked/queue/"+ticket.ID.String(), token, &out)
	if resp.StatusCode != http.StatusOK || out.Ticket.ID != ticket.ID {
		t.Fatalf("poll failed: %d %+v", resp.StatusCode, out.Ticket)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/ranked/queue/"+ticket.ID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("cancel must be 200, got %d", delResp.StatusCode)
	}

	// Cancel again: still 200, the ticket is simply gone.
	delResp2, err := http.DefaultClient.Do(req.Clone(req.Context()))
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	delResp2.Body.Close()
	if delResp2.StatusCode != http.StatusOK {
		t.Fatalf("repeated cancel must be 200, got %d", delResp2.StatusCode)
	}

	resp = getJSON(t, ts.URL+"/api/ranked/queue/"+ticket.ID.String(), token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancelled ticket poll must be 404, got %d", resp.StatusCode)
	}
}

func TestRankedTicketInvisibleToOthers(t *testing.T) {
	ts, _ := newTestServer(t)
	_, tokenA := newSession(t, ts.URL, "a")
	_, tokenB := newSession(t, ts.URL, "b")
	ticket := queueUp(t, ts.URL, tokenA, 1500)

	resp := getJSON(t, ts.URL+"/api/ranked/queue/"+ticket.ID.String(), tokenB, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("another player's ticket must read as 404, got %d", resp.StatusCode)
	}
}

func TestRankedAcceptFlowOverHTTP(t *testing.T) {
	ts, srv := newTestServer(t)
	playerA, tokenA := newSession(t, ts.URL, "a")
	playerB, tokenB := newSession(t, ts.URL, "b")

	ticketA := queueUp(t, ts.URL, tokenA, 1500)
	ticketB := queueUp(t, ts.URL, tokenB, 1520)
	srv.Queue.Pair()

	var pollA, pollB ticketResponse
	getJSON(t, ts.URL+"/api/ranked/queue/"+ticketA.ID.String(), tokenA, &pollA)
	getJSON(t, ts.URL+"/api/ranked/queue/"+ticketB.ID.String(), tokenB, &pollB)
	if pollA.Ticket.Status != models.TicketMatchProposed {
		t.Fatalf("expected proposal after pairing: %+v", pollA.Ticket)
	}
	matchID := pollA.Ticket.MatchID

	// Forged token is rejected without burning the proposal.
	resp, _ := postJSON(t, ts.URL+"/api/ranked/match/"+matchID.String()+"/accept", tokenA, map[string]interface{}{
		"playerId": playerA, "ticketId": ticketA.ID, "acceptToken": "forged",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("forged token must be 403, got %d", resp.StatusCode)
	}

	resp, body := postJSON(t, ts.URL+"/api/ranked/match/"+matchID.String()+"/accept", tokenA, map[string]interface{}{
		"playerId": playerA, "ticketId": ticketA.ID, "acceptToken": pollA.Ticket.AcceptToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept A status %d: %s", resp.StatusCode, body)
	}
	var accepted ticketResponse
	decode(t, body, &accepted)
	if accepted.Ticket.Status != models.TicketAccepted {
		t.Fatalf("expected Accepted, got %s", accepted.Ticket.Status)
	}

	resp, body = postJSON(t, ts.URL+"/api/ranked/match/"+matchID.String()+"/accept", tokenB, map[string]interface{}{
		"playerId": playerB, "ticketId": ticketB.ID, "acceptToken": pollB.Ticket.AcceptToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept B status %d: %s", resp.StatusCode, body)
	}

	// Both tickets reached their terminal state and are gone.
	if resp := getJSON(t, ts.URL+"/api/ranked/queue/"+ticketA.ID.String(), tokenA, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("confirmed ticket should be gone, got %d", resp.StatusCode)
	}
}

func TestRankedDeclineOverHTTP(t *testing.T) {
	ts, srv := newTestServer(t)
	playerA, tokenA := newSession(t, ts.URL, "a")
	_, tokenB := newSession(t, ts.URL, "b")

	ticketA := queueUp(t, ts.URL, tokenA, 1500)
	ticketB := queueUp(t, ts.URL, tokenB, 1500)
	srv.Queue.Pair()

	var pollA ticketResponse
	getJSON(t, ts.URL+"/api/ranked/queue/"+ticketA.ID.String(), tokenA, &pollA)
	matchID := pollA.Ticket.MatchID

	resp, body := postJSON(t, ts.URL+"/api/ranked/match/"+matchID.String()+"/decline", tokenA, map[string]interface{}{
		"playerId": playerA, "ticketId": ticketA.ID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decline status %d: %s", resp.StatusCode, body)
	}
	var declined ticketResponse
	decode(t, body, &declined)
	if declined.Ticket.Status != models.TicketDeclined {
		t.Fatalf("expected Declined, got %s", declined.Ticket.Status)
	}

	// Declining again is still success.
	resp, _ = postJSON(t, ts.URL+"/api/ranked/match/"+matchID.String()+"/decline", tokenA, map[string]interface{}{
		"playerId": playerA, "ticketId": ticketA.ID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repeated decline must be 200, got %d", resp.StatusCode)
	}

	// The other side went back to Queued.
	var pollB ticketResponse
	getJSON(t, ts.URL+"/api/ranked/queue/"+ticketB.ID.String(), tokenB, &pollB)
	if pollB.Ticket.Status != models.TicketQueued {
		t.Fatalf("partner must be requeued, got %s", pollB.Ticket.Status)
	}
}

// confirmMatch drives two players through queue, pairing and mutual accept,
// returning the confirmed match ID.
func confirmMatch(t *testing.T, ts *httptest.Server, srv *Server, tokenA, playerA, tokenB, playerB string) uuid.UUID {
	t.Helper()
	ticketA := queueUp(t, ts.URL, tokenA, 1500)
	ticketB := queueUp(t, ts.URL, tokenB, 1510)
	srv.Queue.Pair()

	var pollA, pollB ticketResponse
	getJSON(t, ts.URL+"/api/ranked/queue/"+ticketA.ID.String(), tokenA, &pollA)
	getJSON(t, ts.URL+"/api/ranked/queue/"+ticketB.ID.String(), tokenB, &pollB)
	if pollA.Ticket.Status != models.TicketMatchProposed {
		t.Fatalf("pairing did not propose: %+v", pollA.Ticket)
	}
	matchID := pollA.Ticket.MatchID

	for _, side := range []struct {
		token, player string
		ticket        models.RankedTicket
	}{
		{tokenA, playerA, pollA.Ticket},
		{tokenB, playerB, pollB.Ticket},
	} {
		resp, body := postJSON(t, ts.URL+"/api/ranked/match/"+matchID.String()+"/accept", side.token, map[string]interface{}{
			"playerId": side.player, "ticketId": side.ticket.ID, "acceptToken": side.ticket.AcceptToken,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("accept status %d: %s", resp.StatusCode, body)
		}
	}
	return matchID
}

func TestRankedResultAndLeaderboard(t *testing.T) {
	ts, srv := newTestServer(t)
	playerA, tokenA := newSession(t, ts.URL, "a")
	playerB, tokenB := newSession(t, ts.URL, "b")

	matchID := confirmMatch(t, ts, srv, tokenA, playerA, tokenB, playerB)

	resp, body := postJSON(t, ts.URL+"/api/ranked/match/"+matchID.String()+"/result", tokenA, map[string]string{
		"playerA": playerA, "playerB": playerB, "outcome": "win",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result status %d: %s", resp.StatusCode, body)
	}

	var board struct {
		SeasonID string                    `json:"seasonId"`
		Entries  []models.LeaderboardEntry `json:"entries"`
	}
	getJSON(t, ts.URL+"/api/ranked/leaderboard", "", &board)
	if board.SeasonID != "s1" || len(board.Entries) != 2 {
		t.Fatalf("unexpected leaderboard: %+v", board)
	}
	if board.Entries[0].PlayerID != playerA {
		t.Fatalf("winner must rank first: %+v", board.Entries)
	}
	if board.Entries[0].Rank != 1 || board.Entries[1].Rank != 2 {
		t.Fatalf("ranks must be contiguous: %+v", board.Entries)
	}

	var hist struct {
		SeasonID string                     `json:"seasonId"`
		Matches  []models.MatchHistoryEntry `json:"matches"`
	}
	resp = getJSON(t, ts.URL+"/api/ranked/history", tokenA, &hist)
	if resp.StatusCode != http.StatusOK || len(hist.Matches) != 1 {
		t.Fatalf("history failed: %d %+v", resp.StatusCode, hist)
	}
	if hist.Matches[0].Outcome != models.OutcomeWin || hist.Matches[0].OpponentID != playerB {
		t.Fatalf("history entry wrong: %+v", hist.Matches[0])
	}
}

func TestRankedResultRejectsFabricatedMatch(t *testing.T) {
	ts, _ := newTestServer(t)
	_, token := newSession(t, ts.URL, "forger")

	// Any session can mint a token, but a matchId that was never confirmed
	// must not move anyone's rating.
	resp, _ := postJSON(t, ts.URL+"/api/ranked/match/"+uuid.NewString()+"/result", token, map[string]string{
		"playerA": "victim-a", "playerB": "victim-b", "outcome": "win",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("fabricated match must be 404, got %d", resp.StatusCode)
	}

	var board struct {
		Entries []models.LeaderboardEntry `json:"entries"`
	}
	getJSON(t, ts.URL+"/api/ranked/leaderboard", "", &board)
	if len(board.Entries) != 0 {
		t.Fatalf("fabricated result reached the leaderboard: %+v", board.Entries)
	}
}

func TestRankedResultRejectsWrongPlayers(t *testing.T) {
	ts, srv := newTestServer(t)
	playerA, tokenA := newSession(t, ts.URL, "a")
	playerB, tokenB := newSession(t, ts.URL, "b")
	matchID := confirmMatch(t, ts, srv, tokenA, playerA, tokenB, playerB)

	resp, _ := postJSON(t, ts.URL+"/api/ranked/match/"+matchID.String()+"/result", tokenA, map[string]string{
		"playerA": playerA, "playerB": "intruder", "outcome": "win",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong participants must be 403, got %d", resp.StatusCode)
	}
}

func TestRankedResultReplayRejected(t *testing.T) {
	ts, srv := newTestServer(t)
	playerA, tokenA := newSession(t, ts.URL, "a")
	playerB, tokenB := newSession(t, ts.URL, "b")
	matchID := confirmMatch(t, ts, srv, tokenA, playerA, tokenB, playerB)

	resp, _ := postJSON(t, ts.URL+"/api/ranked/match/"+matchID.String()+"/result", tokenA, map[string]string{
		"playerA": playerA, "playerB": playerB, "outcome": "win",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first result must succeed, got %d", resp.StatusCode)
	}

	resp, _ = postJSON(t, ts.URL+"/api/ranked/match/"+matchID.String()+"/result", tokenA, map[string]string{
		"playerA": playerA, "playerB": playerB, "outcome": "win",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("replayed result must be 409, got %d", resp.StatusCode)
	}

	// One rating step only: each player has exactly one counted match.
	var board struct {
		Entries []models.LeaderboardEntry `json:"entries"`
	}
	getJSON(t, ts.URL+"/api/ranked/leaderboard", "", &board)
	for _, e := range board.Entries {
		if e.Wins+e.Losses != 1 {
			t.Fatalf("replay moved a rating twice: %+v", e)
		}
	}
}

func TestRankedResultRejectsUnknownOutcome(t *testing.T) {
	ts, _ := newTestServer(t)
	playerA, tokenA := newSession(t, ts.URL, "a")

	resp, _ := postJSON(t, ts.URL+"/api/ranked/match/"+uuid.NewString()+"/result", tokenA, map[string]string{
		"playerA": playerA, "playerB": "other", "outcome": "rage_quit",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown outcome must be 400, got %d", resp.StatusCode)
	}
}

func TestRankedHistoryRequiresAuth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := getJSON(t, ts.URL+"/api/ranked/history", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("history without a token must be 401, got %d", resp.StatusCode)
	}
}
