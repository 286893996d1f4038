package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"camphq/internal/attendance"
	"camphq/internal/auth"
	"camphq/internal/config"
	"camphq/internal/fault"
	"camphq/internal/httpmiddleware"
	"camphq/internal/identity"
	"camphq/internal/pickup"
	"camphq/internal/registration"
	"camphq/internal/store"
	"camphq/internal/waitlist"
)

type server struct {
	cfg      config.App
	att      *attendance.Service
	reg      *registration.Service
	pick     *pickup.Service
	wait     *waitlist.Service
	identity *identity.Client
	roster   *store.RosterCache
}

func (s *server) registerRoutes(r *gin.Engine) {
	// Staff session: exchange credentials with the identity service for a
	// role-scoped bearer token.
	r.POST("/v1/sessions", s.createSession)

	// Kiosk registration mints a long-lived check-in-only token for the
	// device at the camp entrance.
	r.POST("/v1/kiosks/register", s.registerKiosk)

	// Offer acceptance is public: the offer token is the capability.
	r.POST("/v1/waitlist/accept", s.acceptOffer)

	staff := r.Group("/v1", auth.Bearer(s.cfg.JWTSigningKey, s.cfg.JWTIssuer), auth.RequireRole(auth.RoleStaff))

	staff.GET("/camp-days/:id/roster", s.getRoster)
	staff.POST("/camp-days/:id/start", s.startDay)
	staff.POST("/camp-days/:id/end", s.endDay)
	staff.POST("/camp-days/:id/check-ins", s.checkIn(attendance.MethodStaff))
	staff.POST("/camp-days/:id/check-outs", s.checkOut)
	staff.POST("/camp-days/:id/absences", s.markAbsent)
	staff.POST("/camp-days/:id/absences/revert", s.revertAbsence)
	staff.POST("/camp-days/:id/absence-sweep", s.absenceSweep)

	staff.POST("/camp-days/:id/pickup-tokens", s.generateTokens)
	staff.GET("/camp-days/:id/pickup-tokens", s.listTokens)
	staff.POST("/camp-days/:id/override-checkout", s.overrideCheckout)

	staff.POST("/camps", s.createCamp)
	staff.POST("/camps/:id/days", s.createDay)
	staff.GET("/camps/:id/capacity", s.getCapacity)
	staff.GET("/camps/:id/waitlist", s.listWaitlist)
	staff.POST("/camps/:id/waitlist", s.joinWaitlist)
	staff.POST("/waitlist/:registrationId/offer", s.sendOffer)
	staff.POST("/waitlist/:registrationId/remove", s.removeEntry)

	staff.POST("/registrations", s.createRegistration)
	staff.POST("/registrations/:id/confirm", s.confirmRegistration)
	staff.POST("/registrations/:id/cancel", s.cancelRegistration)

	// Sweeps are invoked by the external cron on a fixed interval; they are
	// idempotent and carry no caller state.
	staff.POST("/sweeps/waitlist", s.sweepWaitlist)
	staff.POST("/sweeps/pickup-tokens", s.sweepTokens)

	// Token redemption guards physical child release, so it gets a much
	// tighter per-IP budget against secret guessing.
	redeemLimit := httpmiddleware.NewSimpleTokenBucket(s.cfg.RedeemPerMin, s.cfg.RedeemPerMin)
	staff.POST("/pickup-tokens/redeem", redeemLimit.GinMiddleware(), s.redeemToken)

	kiosk := r.Group("/v1/kiosk", auth.Bearer(s.cfg.JWTSigningKey, s.cfg.JWTIssuer),
		auth.RequireRole(auth.RoleKiosk, auth.RoleStaff))
	kiosk.POST("/camp-days/:id/check-ins", s.checkIn(attendance.MethodKiosk))
}

// respondErr maps typed faults to their HTTP status; plain errors are 500s
// with the detail kept server-side.
func respondErr(c *gin.Context, err error) {
	if code := fault.CodeOf(err); code != "" {
		c.JSON(fault.HTTPStatus(err), gin.H{"error": err.Error(), "code": string(code)})
		return
	}
	log.Printf("internal error on %s: %v", c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func actor(c *gin.Context) string {
	claims := auth.FromContext(c)
	if claims.Name != "" {
		return claims.Name
	}
	return claims.Subject
}

func (s *server) createSession(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	staff, err := s.identity.Verify(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondErr(c, err)
		return
	}
	token, exp, err := auth.Issue(staff.ID, staff.Name, auth.RoleStaff, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.SessionTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"access_token": token, "expires_at": exp.Unix()})
}

func (s *server) registerKiosk(c *gin.Context) {
	var req struct {
		KioskID string `json:"kiosk_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, exp, err := auth.Issue(req.KioskID, "kiosk "+req.KioskID, auth.RoleKiosk, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.KioskTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"access_token": token, "expires_at": exp.Unix()})
}

func (s *server) getRoster(c *gin.Context) {
	dayID := c.Param("id")
	if cached, ok := s.roster.Get(c.Request.Context(), dayID); ok {
		c.Data(http.StatusOK, "application/json", cached)
		return
	}
	roster, err := s.att.Roster(c.Request.Context(), dayID)
	if err != nil {
		respondErr(c, err)
		return
	}
	payload, err := json.Marshal(gin.H{"roster": roster})
	if err != nil {
		respondErr(c, err)
		return
	}
	s.roster.Set(c.Request.Context(), dayID, payload)
	c.Data(http.StatusOK, "application/json", payload)
}

func (s *server) startDay(c *gin.Context) {
	day, err := s.att.StartDay(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	s.roster.Invalidate(c.Request.Context(), day.ID)
	c.JSON(http.StatusOK, gin.H{"day": day})
}

func (s *server) endDay(c *gin.Context) {
	var opts attendance.EndOptions
	if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.att.EndDay(c.Request.Context(), c.Param("id"), actor(c), opts)
	if err != nil {
		respondErr(c, err)
		return
	}
	s.roster.Invalidate(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, result)
}

func (s *server) checkIn(method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AthleteID string `json:"athlete_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := s.att.CheckIn(c.Request.Context(), c.Param("id"), req.AthleteID, method, actor(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		s.roster.Invalidate(c.Request.Context(), c.Param("id"))
		c.JSON(http.StatusOK, gin.H{"record": rec})
	}
}

func (s *server) checkOut(c *gin.Context) {
	var req struct {
		AthleteID    string `json:"athlete_id" binding:"required"`
		PickupName   string `json:"pickup_name" binding:"required"`
		Relationship string `json:"relationship"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.att.CheckOut(c.Request.Context(), c.Param("id"), req.AthleteID,
		attendance.PickupPerson{Name: req.PickupName, Relationship: req.Relationship},
		attendance.VerifyTypedName, actor(c), "")
	if err != nil {
		respondErr(c, err)
		return
	}
	s.roster.Invalidate(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (s *server) markAbsent(c *gin.Context) {
	var req struct {
		AthleteID string `json:"athlete_id" binding:"required"`
		Notes     string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.att.MarkAbsent(c.Request.Context(), c.Param("id"), req.AthleteID, actor(c), req.Notes)
	if err != nil {
		respondErr(c, err)
		return
	}
	s.roster.Invalidate(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (s *server) revertAbsence(c *gin.Context) {
	var req struct {
		AthleteID string `json:"athlete_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.att.RevertAbsence(c.Request.Context(), c.Param("id"), req.AthleteID)
	if err != nil {
		respondErr(c, err)
		return
	}
	s.roster.Invalidate(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (s *server) absenceSweep(c *gin.Context) {
	outcomes, err := s.att.MarkAbsentSweep(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	s.roster.Invalidate(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

func (s *server) generateTokens(c *gin.Context) {
	issued, err := s.pick.Generate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tokens": issued})
}

func (s *server) listTokens(c *gin.Context) {
	tokens, err := s.pick.ListForDay(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (s *server) redeemToken(c *gin.Context) {
	var req struct {
		Secret string `json:"secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, rec, err := s.pick.Redeem(c.Request.Context(), req.Secret, actor(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	s.roster.Invalidate(c.Request.Context(), token.CampDayID)
	c.JSON(http.StatusOK, gin.H{"token": token, "record": rec})
}

func (s *server) overrideCheckout(c *gin.Context) {
	var req struct {
		AthleteID    string `json:"athlete_id" binding:"required"`
		PickupName   string `json:"pickup_name" binding:"required"`
		Relationship string `json:"relationship"`
		Reason       string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.pick.Override(c.Request.Context(), c.Param("id"), req.AthleteID,
		attendance.PickupPerson{Name: req.PickupName, Relationship: req.Relationship}, actor(c), req.Reason)
	if err != nil {
		respondErr(c, err)
		return
	}
	s.roster.Invalidate(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (s *server) createCamp(c *gin.Context) {
	var req struct {
		Name     string    `json:"name" binding:"required"`
		Capacity int       `json:"capacity" binding:"required"`
		StartsOn time.Time `json:"starts_on" binding:"required"`
		EndsOn   time.Time `json:"ends_on" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	camp, err := s.reg.CreateCamp(c.Request.Context(), registration.Camp{
		Name: req.Name, Capacity: req.Capacity, StartsOn: req.StartsOn, EndsOn: req.EndsOn,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"camp": camp})
}

func (s *server) createDay(c *gin.Context) {
	var req struct {
		Date      time.Time `json:"date" binding:"required"`
		DayNumber int       `json:"day_number"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	day, err := s.att.CreateDay(c.Request.Context(), c.Param("id"), req.Date, req.DayNumber)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"day": day})
}

func (s *server) getCapacity(c *gin.Context) {
	cap, err := s.reg.Capacity(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"capacity": cap})
}

func (s *server) listWaitlist(c *gin.Context) {
	entries, err := s.wait.Entries(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *server) joinWaitlist(c *gin.Context) {
	var req struct {
		AthleteID string `json:"athlete_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, err := s.wait.Join(c.Request.Context(), c.Param("id"), req.AthleteID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

func (s *server) sendOffer(c *gin.Context) {
	entry, token, err := s.wait.SendOffer(c.Request.Context(), c.Param("registrationId"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry, "offer_token": token})
}

func (s *server) acceptOffer(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, err := s.wait.Accept(c.Request.Context(), req.Token)
	if err != nil {
		respondErr(c, err)
		return
	}
	// The slot is now reserved; the family finishes payment with the
	// registration collaborator, which calls back to confirm.
	c.JSON(http.StatusOK, gin.H{"entry": entry, "next": "complete registration checkout"})
}

func (s *server) removeEntry(c *gin.Context) {
	entry, err := s.wait.Remove(c.Request.Context(), c.Param("registrationId"), actor(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

func (s *server) createRegistration(c *gin.Context) {
	var req struct {
		CampID    string `json:"camp_id" binding:"required"`
		AthleteID string `json:"athlete_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reg, err := s.reg.Register(c.Request.Context(), req.CampID, req.AthleteID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"registration": reg})
}

func (s *server) confirmRegistration(c *gin.Context) {
	if err := s.reg.Confirm(c.Request.Context(), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": registration.StatusConfirmed})
}

func (s *server) cancelRegistration(c *gin.Context) {
	if err := s.reg.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": registration.StatusCancelled})
}

func (s *server) sweepWaitlist(c *gin.Context) {
	result, err := s.wait.ExpireStaleOffers(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *server) sweepTokens(c *gin.Context) {
	n, err := s.pick.ExpireSweep(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}
