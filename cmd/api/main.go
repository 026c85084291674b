package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attendance/internal/auth"
	"attendance/internal/config"
	"attendance/internal/httpmiddleware"
	"attendance/internal/metrics"
	"attendance/internal/roster"
	"attendance/internal/session"
	"attendance/internal/slots"
	"attendance/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	redisClient := store.NewRedis(cfg.RedisAddr)

	var (
		sessions session.SessionStore
		records  session.RecordStore
		db       *store.DB
		dbOK     bool
	)
	if cfg.StoreBackend == "memory" {
		mem := session.NewMemStore()
		sessions, records = mem, mem
		dbOK = true
		log.Println("using in-memory store (dev only)")
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		repo := session.NewRepository(db.Client)
		sessions, records = repo, repo
		dbOK = true
	}

	rosterClient := roster.New(cfg.RosterServiceURL, redisClient.Client, cfg.RosterCacheTTL)
	slotClient := slots.New(cfg.SlotServiceURL)

	svc := session.NewService(sessions, records, rosterClient, slotClient)
	closer := session.NewReconciler(sessions, records, rosterClient)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbOK {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbOK})
	})

	// Dev-only token issue; real deployments put an identity service in front.
	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			TeacherID string `json:"teacher_id" binding:"required"`
			TenantID  string `json:"tenant_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, session.E(session.KindValidation, err.Error()))
			return
		}
		token, exp, err := auth.Issue(req.TeacherID, req.TenantID, "teacher", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"access_token": token, "expires_at": exp.Unix()})
	})

	// Dev-only scan-token issue; real deployments mint these on student id
	// cards or from the student app's identity service.
	r.POST("/v1/auth/scan-token", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			TenantID  string `json:"tenant_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, session.E(session.KindValidation, err.Error()))
			return
		}
		token, err := auth.IssueScanToken(req.StudentID, req.TenantID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.ScanTokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"token": token, "purpose": auth.PurposeAttendance})
	})

	authGroup := r.Group("/v1", auth.TeacherAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	authGroup.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	authGroup.POST("/sessions", func(c *gin.Context) {
		var req struct {
			SlotID      string `json:"slot_id" binding:"required"`
			LectureDate string `json:"lecture_date" binding:"required"` // YYYY-MM-DD
			LectureNo   int    `json:"lecture_no"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, session.E(session.KindValidation, err.Error()))
			return
		}
		date, err := time.Parse("2006-01-02", req.LectureDate)
		if err != nil {
			writeError(c, session.E(session.KindValidation, "lecture_date must be YYYY-MM-DD"))
			return
		}
		sess, err := svc.Create(c.Request.Context(), actorFrom(c), session.CreateInput{
			SlotID:      req.SlotID,
			LectureDate: date,
			LectureNo:   req.LectureNo,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		metrics.SessionsCreated.Inc()
		c.JSON(http.StatusCreated, sess)
	})

	authGroup.GET("/sessions", func(c *gin.Context) {
		f := session.ListFilter{Limit: 50}
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				f.Limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				f.Offset = parsed
			}
		}
		if v := c.Query("date"); v != "" {
			date, err := time.Parse("2006-01-02", v)
			if err != nil {
				writeError(c, session.E(session.KindValidation, "date must be YYYY-MM-DD"))
				return
			}
			f.Date = &date
		}
		if v := c.Query("status"); v != "" {
			f.Status = session.Status(v)
		}
		out, err := svc.List(c.Request.Context(), actorFrom(c), f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	})

	authGroup.GET("/sessions/:id", func(c *gin.Context) {
		sess, err := svc.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	authGroup.GET("/sessions/:id/records", func(c *gin.Context) {
		recs, err := svc.Records(c.Request.Context(), actorFrom(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	})

	// Batch mark and pre-close edit share one upsert contract.
	authGroup.POST("/sessions/:id/marks", func(c *gin.Context) {
		var req struct {
			Marks []session.Mark `json:"marks" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, session.E(session.KindValidation, err.Error()))
			return
		}
		applied, err := svc.ApplyMarks(c.Request.Context(), actorFrom(c), c.Param("id"), req.Marks)
		if err != nil {
			writeError(c, err)
			return
		}
		metrics.RecordsMarked.WithLabelValues("batch").Add(float64(applied))
		c.JSON(http.StatusOK, gin.H{"applied": applied})
	})

	authGroup.POST("/sessions/:id/scan", func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, session.E(session.KindValidation, err.Error()))
			return
		}
		claims, err := auth.VerifyScanToken(req.Token, cfg.JWTSigningKey, cfg.JWTIssuer)
		if err != nil {
			writeError(c, session.E(session.KindInvalidToken, "attendance token rejected"))
			return
		}
		rec, err := svc.Scan(c.Request.Context(), actorFrom(c), c.Param("id"), session.ScanIdentity{
			StudentID: claims.StudentID,
			TenantID:  claims.TenantID,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		metrics.RecordsMarked.WithLabelValues("scan").Inc()
		c.JSON(http.StatusCreated, rec)
	})

	authGroup.POST("/sessions/:id/close", func(c *gin.Context) {
		sum, err := closer.CloseManual(c.Request.Context(), actorFrom(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		metrics.SessionsClosed.WithLabelValues(string(session.TriggerManual)).Inc()
		c.JSON(http.StatusOK, sum)
	})

	authGroup.DELETE("/sessions/:id", func(c *gin.Context) {
		if err := svc.Delete(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

func actorFrom(c *gin.Context) session.Actor {
	claims, _ := auth.FromContext(c)
	return session.Actor{TenantID: claims.TenantID, TeacherID: claims.Subject}
}

// writeError maps the error taxonomy onto HTTP statuses with a stable
// machine-readable kind in the body.
func writeError(c *gin.Context, err error) {
	kind := session.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case session.KindValidation, session.KindInvalidSlot:
		status = http.StatusBadRequest
	case session.KindInvalidToken:
		status = http.StatusUnauthorized
	case session.KindNotOwner:
		status = http.StatusForbidden
	case session.KindNotFoundOrClosed:
		status = http.StatusNotFound
	case session.KindDuplicateSession, session.KindAlreadyMarked, session.KindSessionNotOpen:
		status = http.StatusConflict
	case session.KindStudentNotEligible:
		status = http.StatusUnprocessableEntity
	case session.KindUnavailable:
		status = http.StatusServiceUnavailable
	}
	if kind == "" {
		c.JSON(status, gin.H{"error": gin.H{"kind": "INTERNAL", "message": err.Error()}})
		return
	}
	msg := err.Error()
	var e *session.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	c.JSON(status, gin.H{"error": gin.H{"kind": kind, "message": msg}})
}
