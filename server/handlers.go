package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"voxdrop/access"
	"voxdrop/account"
	"voxdrop/invite"
	"voxdrop/log"
	"voxdrop/message"
	"voxdrop/store"
)

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// resolve loads the message for the caller, writing a 404 when it is unknown
// or unreadable.
func (s *Server) resolve(c *gin.Context) (*message.Record, bool) {
	rec, err := message.Resolve(c.Request.Context(), s.cfg.Store, c.Param("id"), principal(c))
	if errors.Is(err, message.ErrNotFound) {
		abort(c, http.StatusNotFound, "message not found")
		return nil, false
	}
	if err != nil {
		log.Errorf("resolve_failed: id=%s err=%v", c.Param("id"), err)
		abort(c, http.StatusInternalServerError, "could not load message")
		return nil, false
	}
	return rec, true
}

func (s *Server) getMessage(c *gin.Context) {
	rec, ok := s.resolve(c)
	if !ok {
		return
	}
	if s.cfg.AutoTranscribe && s.cfg.Coordinator != nil && !rec.HasTranscription() {
		go s.cfg.Coordinator.EnsureTranscribed(s.bg, rec)
	}
	c.JSON(http.StatusOK, rec.Export())
}

func (s *Server) getAudio(c *gin.Context) {
	rec, ok := s.resolve(c)
	if !ok {
		return
	}
	data, info, err := s.cfg.Store.ReadStream(c.Request.Context(), rec.AudioRef)
	if errors.Is(err, store.ErrNotFound) {
		abort(c, http.StatusNotFound, "audio not found")
		return
	}
	if err != nil {
		log.Errorf("audio_read_failed: id=%s err=%v", rec.ID, err)
		abort(c, http.StatusServiceUnavailable, "audio unavailable")
		return
	}
	c.Data(http.StatusOK, info.MimeType, data)
}

func (s *Server) transcribe(c *gin.Context) {
	rec, ok := s.resolve(c)
	if !ok {
		return
	}
	if s.cfg.Coordinator == nil {
		abort(c, http.StatusServiceUnavailable, "transcription is not configured")
		return
	}
	out := s.cfg.Coordinator.EnsureTranscribed(c.Request.Context(), rec)
	resp := gin.H{"outcome": out.Status.String()}
	if out.Err != nil {
		resp["error"] = out.Err.Error()
	}
	if latest, err := s.cfg.Store.Record(c.Request.Context(), rec.ID); err == nil {
		resp["message"] = latest.Export()
	}
	c.JSON(http.StatusOK, resp)
}

type titleRequest struct {
	Title *string `json:"title"`
}

func (s *Server) setTitle(c *gin.Context) {
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	rec, ok := s.resolve(c)
	if !ok {
		return
	}
	updated, err := message.SetTitle(c.Request.Context(), s.cfg.Store, rec.ID, principal(c), req.Title)
	if errors.Is(err, message.ErrNotCreator) {
		abort(c, http.StatusForbidden, err.Error())
		return
	}
	if err != nil {
		log.Errorf("set_title_failed: id=%s err=%v", rec.ID, err)
		abort(c, http.StatusInternalServerError, "could not update message")
		return
	}
	c.JSON(http.StatusOK, updated.Export())
}

type inviteRequest struct {
	Role string `json:"role" binding:"required,oneof=reader writer owner"`
}

// createInvite is only offered to the creator; the issuer itself does not
// check.
func (s *Server) createInvite(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	rec, ok := s.resolve(c)
	if !ok {
		return
	}
	if !rec.CreatedBy(principal(c)) {
		abort(c, http.StatusForbidden, "only the creator can invite")
		return
	}
	if s.cfg.Issuer == nil {
		abort(c, http.StatusServiceUnavailable, "invites are not configured")
		return
	}
	link, err := s.cfg.Issuer.CreateInviteLink(rec, access.Role(req.Role))
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"link": link})
}

func (s *Server) acceptInvite(c *gin.Context) {
	if s.cfg.Issuer == nil {
		abort(c, http.StatusServiceUnavailable, "invites are not configured")
		return
	}
	claims, err := s.cfg.Issuer.Accept(c.Request.Context(), s.cfg.Store, c.Param("token"), principal(c))
	switch {
	case errors.Is(err, invite.ErrInvalidToken):
		abort(c, http.StatusBadRequest, "invalid invite")
		return
	case errors.Is(err, store.ErrNotFound):
		abort(c, http.StatusNotFound, "message no longer exists")
		return
	case err != nil:
		log.Errorf("invite_accept_failed: %v", err)
		abort(c, http.StatusInternalServerError, "could not accept invite")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": claims.Record, "role": claims.Role})
}

func (s *Server) listMessages(c *gin.Context) {
	recs, err := session(c).Library.List(c.Request.Context())
	if err != nil {
		log.Errorf("list_failed: %v", err)
		abort(c, http.StatusInternalServerError, "could not list messages")
		return
	}
	out := make([]message.Export, len(recs))
	for i, r := range recs {
		out[i] = r.Export()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) deleteMessage(c *gin.Context) {
	removed, err := session(c).Library.Remove(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Errorf("remove_failed: %v", err)
		abort(c, http.StatusInternalServerError, "could not remove message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

type profileView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
}

func viewOf(p *account.Profile) profileView {
	return profileView{ID: p.ID, Name: p.Name, FirstName: p.FirstName}
}

func (s *Server) getProfile(c *gin.Context) {
	c.JSON(http.StatusOK, viewOf(session(c).Profile))
}

type profileRequest struct {
	Name      *string `json:"name" binding:"omitempty,max=200"`
	FirstName *string `json:"firstName" binding:"omitempty,max=100"`
}

func (s *Server) updateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	p, err := account.Update(c.Request.Context(), s.cfg.Store, session(c).AccountID, req.Name, req.FirstName)
	if errors.Is(err, account.ErrEmptyName) {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Errorf("update_profile_failed: err=%v", err)
		abort(c, http.StatusInternalServerError, "could not update profile")
		return
	}
	c.JSON(http.StatusOK, viewOf(p))
}
