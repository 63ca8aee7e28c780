package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/blobbygame/summit/internal/answer"
	"github.com/blobbygame/summit/internal/domain"
	"github.com/blobbygame/summit/internal/errors"
	"github.com/blobbygame/summit/internal/event"
	"github.com/blobbygame/summit/internal/leaderboard"
	"github.com/blobbygame/summit/internal/session"
	"github.com/blobbygame/summit/internal/telemetry"
)

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Session      *session.Service
	Answer       *answer.Service
	Leaderboard  *leaderboard.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	sessions    *session.Service
	answers     *answer.Service
	leaderboard *leaderboard.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		sessions:    c.Session,
		answers:     c.Answer,
		leaderboard: c.Leaderboard,
		redis:       c.Redis,
		prefix:      c.PubsubPrefix,
	}

	v1 := c.Engine.Group("/v1")
	{
		v1.POST("/sessions", a.createSession)
		v1.GET("/sessions/:id", a.getSession)
		v1.GET("/sessions", a.getSessionByCode)
		v1.GET("/hosts/:hostId/sessions", a.listSessionsByHost)
		v1.DELETE("/sessions/:id", a.removeSession)

		v1.POST("/sessions/:id/players", a.joinSession)
		v1.GET("/sessions/:id/leaderboard", a.getLeaderboard)
		v1.GET("/sessions/:id/questions/:index/order", a.questionOrder)

		v1.POST("/sessions/:id/start", a.startSession)
		v1.POST("/sessions/:id/next", a.nextQuestion)
		v1.POST("/sessions/:id/showAnswers", a.showAnswers)
		v1.POST("/sessions/:id/reveal", a.revealAnswer)
		v1.POST("/sessions/:id/showResults", a.showResults)
		v1.POST("/sessions/:id/previous", a.previousPhase)
		v1.POST("/sessions/:id/backToLobby", a.backToLobby)
		v1.POST("/sessions/:id/finish", a.finishSession)

		v1.GET("/sessions/:id/questions", a.listQuestions)
		v1.POST("/questions", a.addQuestion)
		v1.PATCH("/questions/:id", a.updateQuestion)
		v1.DELETE("/questions/:id", a.removeQuestion)
		v1.GET("/questions/:id/results", a.getResults)
		v1.GET("/questions/:id/answers", a.listAnswers)
		v1.GET("/players/:id/answers", a.listPlayerAnswers)

		v1.POST("/answers", a.submitAnswer)
	}

	// Push notifications out through redis pubsub.
	c.EventBus.Subscribe(domain.EventNamePhaseChanged, func(ctx context.Context, e event.Event) error {
		return a.publishPhaseChanged(ctx, e.(domain.EventPhaseChanged))
	})
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.publishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})
	c.EventBus.Subscribe(domain.EventNamePlayerSummited, func(ctx context.Context, e event.Event) error {
		telemetry.Summits.Inc()
		return a.publishPlayerSummited(ctx, e.(domain.EventPlayerSummited))
	})

	return a
}

func fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{"code": e.Code, "message": e.Message})
}

type createSessionRequest struct {
	HostID string `json:"host_id" binding:"required"`
}

func (a *API) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	resp, err := a.sessions.CreateSession(c.Request.Context(), session.CreateSessionRequest{
		HostID: req.HostID,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": resp.SessionID, "join_code": resp.JoinCode})
}

type sessionView struct {
	SessionID            string `json:"session_id"`
	JoinCode             string `json:"join_code"`
	HostID               string `json:"host_id"`
	Status               string `json:"status"`
	CurrentQuestionIndex int    `json:"current_question_index"`
	QuestionPhase        string `json:"question_phase,omitempty"`
	QuestionStartedAt    int64  `json:"question_started_at,omitempty"`
	CreatedAt            int64  `json:"created_at"`
}

func viewSession(ss *domain.Session) sessionView {
	v := sessionView{
		SessionID:            ss.ID,
		JoinCode:             ss.JoinCode,
		HostID:               ss.HostID,
		Status:               string(ss.Status),
		CurrentQuestionIndex: ss.CurrentQuestionIndex,
		QuestionPhase:        string(ss.QuestionPhase),
		CreatedAt:            ss.CreatedAt.UnixMilli(),
	}
	if !ss.QuestionStartedAt.IsZero() {
		v.QuestionStartedAt = ss.QuestionStartedAt.UnixMilli()
	}
	return v
}

func (a *API) getSession(c *gin.Context) {
	ss, err := a.sessions.GetSession(c.Request.Context(), session.GetSessionRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(ss))
}

func (a *API) getSessionByCode(c *gin.Context) {
	ss, err := a.sessions.GetSessionByCode(c.Request.Context(), session.GetSessionByCodeRequest{
		JoinCode: c.Query("code"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(ss))
}

func (a *API) listSessionsByHost(c *gin.Context) {
	sessions, err := a.sessions.ListSessionsByHost(c.Request.Context(), session.ListSessionsByHostRequest{
		HostID: c.Param("hostId"),
	})
	if err != nil {
		fail(c, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, viewSession(&sessions[i]))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

func (a *API) removeSession(c *gin.Context) {
	id := c.Param("id")
	if err := a.sessions.RemoveSession(c.Request.Context(), session.RemoveSessionRequest{
		SessionID: id,
	}); err != nil {
		fail(c, err)
		return
	}
	if err := a.leaderboard.ClearLeaderboard(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

type joinSessionRequest struct {
	Name string `json:"name" binding:"required"`
}

func (a *API) joinSession(c *gin.Context) {
	var req joinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	resp, err := a.sessions.JoinSession(c.Request.Context(), session.JoinSessionRequest{
		SessionID: c.Param("id"),
		Name:      req.Name,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"player_id": resp.PlayerID})
}

func (a *API) startSession(c *gin.Context) {
	a.transition(c, a.sessions.StartSession)
}

func (a *API) showAnswers(c *gin.Context) {
	a.transition(c, a.sessions.ShowAnswers)
}

func (a *API) revealAnswer(c *gin.Context) {
	if err := a.sessions.RevealAnswer(c.Request.Context(), session.TransitionRequest{
		SessionID: c.Param("id"),
	}); err != nil {
		fail(c, err)
		return
	}

	telemetry.Reveals.Inc()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) showResults(c *gin.Context) {
	a.transition(c, a.sessions.ShowResults)
}

func (a *API) backToLobby(c *gin.Context) {
	a.transition(c, a.sessions.BackToLobby)
}

func (a *API) finishSession(c *gin.Context) {
	a.transition(c, a.sessions.FinishSession)
}

func (a *API) transition(c *gin.Context, op func(context.Context, session.TransitionRequest) error) {
	if err := op(c.Request.Context(), session.TransitionRequest{
		SessionID: c.Param("id"),
	}); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) nextQuestion(c *gin.Context) {
	resp, err := a.sessions.NextQuestion(c.Request.Context(), session.TransitionRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"finished": resp.Finished})
}

func (a *API) previousPhase(c *gin.Context) {
	resp, err := a.sessions.PreviousPhase(c.Request.Context(), session.TransitionRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"is_destructive":     resp.IsDestructive,
		"target_description": resp.TargetDescription,
	})
}

type addQuestionRequest struct {
	SessionID     string   `json:"session_id" binding:"required"`
	Text          string   `json:"text" binding:"required"`
	Options       []string `json:"options" binding:"required"`
	CorrectOption *int     `json:"correct_option"`
	TimeLimit     int      `json:"time_limit"`
}

func (a *API) addQuestion(c *gin.Context) {
	var req addQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	resp, err := a.sessions.AddQuestion(c.Request.Context(), session.AddQuestionRequest{
		SessionID:     req.SessionID,
		Text:          req.Text,
		Options:       req.Options,
		CorrectOption: req.CorrectOption,
		TimeLimit:     req.TimeLimit,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"question_id": resp.QuestionID})
}

type updateQuestionRequest struct {
	Text          *string  `json:"text"`
	Options       []string `json:"options"`
	CorrectOption *int     `json:"correct_option"`
	ClearCorrect  bool     `json:"clear_correct"`
	TimeLimit     *int     `json:"time_limit"`
	Enabled       *bool    `json:"enabled"`
}

func (a *API) updateQuestion(c *gin.Context) {
	var req updateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := a.sessions.UpdateQuestion(c.Request.Context(), session.UpdateQuestionRequest{
		QuestionID:    c.Param("id"),
		Text:          req.Text,
		Options:       req.Options,
		CorrectOption: req.CorrectOption,
		ClearCorrect:  req.ClearCorrect,
		TimeLimit:     req.TimeLimit,
		Enabled:       req.Enabled,
	}); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) removeQuestion(c *gin.Context) {
	if err := a.sessions.RemoveQuestion(c.Request.Context(), session.RemoveQuestionRequest{
		QuestionID: c.Param("id"),
	}); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

type questionView struct {
	QuestionID    string   `json:"question_id"`
	SessionID     string   `json:"session_id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectOption *int     `json:"correct_option,omitempty"`
	Order         int      `json:"order"`
	TimeLimit     int      `json:"time_limit"`
	Enabled       bool     `json:"enabled"`
}

func (a *API) listQuestions(c *gin.Context) {
	questions, err := a.sessions.ListQuestions(c.Request.Context(), session.ListQuestionsRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		fail(c, err)
		return
	}

	views := make([]questionView, 0, len(questions))
	for _, q := range questions {
		views = append(views, questionView{
			QuestionID:    q.ID,
			SessionID:     q.SessionID,
			Text:          q.Text,
			Options:       q.Options,
			CorrectOption: q.CorrectOption,
			Order:         q.Order,
			TimeLimit:     q.TimeLimit,
			Enabled:       q.Enabled,
		})
	}
	c.JSON(http.StatusOK, gin.H{"questions": views})
}

type submitAnswerRequest struct {
	QuestionID  string `json:"question_id" binding:"required"`
	PlayerID    string `json:"player_id" binding:"required"`
	OptionIndex *int   `json:"option_index" binding:"required"`
}

func (a *API) submitAnswer(c *gin.Context) {
	var req submitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	resp, err := a.answers.Submit(c.Request.Context(), answer.SubmitRequest{
		QuestionID:  req.QuestionID,
		PlayerID:    req.PlayerID,
		OptionIndex: *req.OptionIndex,
	})
	if err != nil {
		fail(c, err)
		return
	}

	telemetry.AnswersSubmitted.Inc()
	c.JSON(http.StatusOK, gin.H{"submitted": resp.Submitted})
}

type answerView struct {
	QuestionID  string `json:"question_id"`
	PlayerID    string `json:"player_id"`
	OptionIndex int    `json:"option_index"`
	AnsweredAt  int64  `json:"answered_at"`
}

func viewAnswers(answers []domain.Answer) []answerView {
	views := make([]answerView, 0, len(answers))
	for _, ans := range answers {
		views = append(views, answerView{
			QuestionID:  ans.QuestionID,
			PlayerID:    ans.PlayerID,
			OptionIndex: ans.OptionIndex,
			AnsweredAt:  ans.AnsweredAt.UnixMilli(),
		})
	}
	return views
}

func (a *API) listAnswers(c *gin.Context) {
	answers, err := a.answers.ListByQuestion(c.Request.Context(), answer.ListByQuestionRequest{
		QuestionID: c.Param("id"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answers": viewAnswers(answers)})
}

func (a *API) listPlayerAnswers(c *gin.Context) {
	answers, err := a.answers.ListByPlayer(c.Request.Context(), answer.ListByPlayerRequest{
		PlayerID: c.Param("id"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answers": viewAnswers(answers)})
}

func (a *API) getResults(c *gin.Context) {
	res, err := a.answers.GetResults(c.Request.Context(), answer.GetResultsRequest{
		QuestionID: c.Param("id"),
	})
	if err != nil {
		fail(c, err)
		return
	}

	out := gin.H{
		"question_id":   res.QuestionID,
		"total_answers": res.TotalAnswers,
		"option_counts": res.OptionCounts,
	}
	if res.CorrectOption != nil {
		out["correct_option"] = *res.CorrectOption
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.leaderboard.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		fail(c, err)
		return
	}

	entries := make([]gin.H, 0, len(l.Entries))
	for _, e := range l.Entries {
		entries = append(entries, gin.H{
			"player_id": e.PlayerID,
			"name":      e.Name,
			"elevation": e.Elevation,
			"score":     e.Score,
			"active":    e.Active,
		})
	}
	c.JSON(http.StatusOK, gin.H{"session_id": l.SessionID, "entries": entries})
}

func (a *API) questionOrder(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question index must be an integer")))
		return
	}

	order, err := a.sessions.QuestionOrder(c.Request.Context(), session.QuestionOrderRequest{
		SessionID:     c.Param("id"),
		QuestionIndex: index,
	})
	if err != nil {
		fail(c, err)
		return
	}

	options := make([]gin.H, 0, len(order.Options))
	for _, o := range order.Options {
		options = append(options, gin.H{
			"text":           o.Text,
			"original_index": o.OriginalIndex,
			"shuffled_index": o.ShuffledIndex,
		})
	}
	c.JSON(http.StatusOK, gin.H{"seed": order.Seed, "options": options})
}
