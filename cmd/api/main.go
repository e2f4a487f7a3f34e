package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classtrack/internal/attendance"
	"classtrack/internal/auth"
	"classtrack/internal/clock"
	"classtrack/internal/config"
	"classtrack/internal/devicehub"
	"classtrack/internal/eventbus"
	"classtrack/internal/eventlog"
	"classtrack/internal/httpmiddleware"
	"classtrack/internal/metrics"
	"classtrack/internal/queue"
	"classtrack/internal/store"
	"classtrack/internal/student"
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
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if db == nil {
		return err
	}
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()
	if err := store.Migrate(ctx, db.Client); err != nil {
		log.Printf("warning: migrate failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(cfg.EventBuffer)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classtrack:events")
	}

	bus := eventbus.NewRegistry(cfg.EventBuffer)
	defer bus.Close()
	metrics.ObserveBus(bus)

	emitter := eventlog.NewEmitter(bus, q)
	eventRepo := eventlog.NewRepository(db.Client)

	// In-process archiver; with the Redis backend cmd/worker can drain
	// the same queue instead.
	go func() {
		if err := eventlog.NewArchiver(eventRepo, q).Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("archiver stopped: %v", err)
		}
	}()

	clk := clock.NewSystem()
	stuRepo := student.NewRepository(db.Client)
	attRepo := attendance.NewRepository(db.Client)
	att := attendance.NewService(attRepo, stuRepo, emitter, clk)
	stu := student.NewService(stuRepo, emitter, clk)
	hub := devicehub.New(cfg.DeviceHubURL, cfg.DeviceHubSkip)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Ping(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	api := r.Group("/api")
	deviceAuth := auth.DeviceAuth(cfg.DeviceAuthRequired, cfg.JWTSigningKey, cfg.JWTIssuer)

	api.POST("/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			return
		}
		if err := attRepo.UpsertDevice(c.Request.Context(), req.DeviceID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "device registration failed"})
			return
		}
		tokens, err := auth.Issue(req.DeviceID, auth.RoleDevice, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	api.GET("/devices", func(c *gin.Context) {
		devices, err := hub.List(c.Request.Context())
		if err != nil {
			log.Printf("device hub list failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "device hub unavailable"})
			return
		}
		c.JSON(http.StatusOK, devices)
	})

	api.POST("/attendance", deviceAuth, func(c *gin.Context) {
		var req struct {
			FingerprintID int    `json:"fingerprint_id" binding:"required"`
			Course        string `json:"course" binding:"required"`
			Period        string `json:"period" binding:"required"`
			DeviceID      string `json:"device_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing required fields: fingerprint_id, course, period"})
			return
		}

		rec, err := att.Mark(c.Request.Context(), attendance.Claim{
			FingerprintID: req.FingerprintID,
			Course:        req.Course,
			Period:        req.Period,
			DeviceID:      req.DeviceID,
		})
		if err != nil {
			if errors.Is(err, attendance.ErrAlreadyMarked) {
				metrics.AttendanceConflicts.Inc()
			}
			respondError(c, err)
			return
		}

		metrics.AttendanceMarked.Inc()
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Attendance marked successfully",
			"data": gin.H{
				"attendance_id": rec.ID,
				"student_name":  rec.StudentName,
				"department":    rec.Department,
				"course":        rec.Course,
				"period":        rec.Period,
				"timestamp":     rec.Timestamp,
			},
		})
	})

	api.GET("/attendance", func(c *gin.Context) {
		f := attendance.Filter{
			Course:     c.Query("course"),
			Department: c.Query("department"),
			Period:     c.Query("period"),
		}
		if v := c.Query("date"); v != "" {
			day, err := time.ParseInLocation("2006-01-02", v, time.Local)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid date, expected YYYY-MM-DD"})
				return
			}
			f.Date = day
		}
		page, limit := pagination(c)

		records, total, err := att.List(c.Request.Context(), f, page, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		if records == nil {
			records = []attendance.Record{}
		}
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"data":       records,
			"pagination": paginationMeta(page, limit, total),
		})
	})

	api.GET("/attendance/stats", func(c *gin.Context) {
		var date time.Time
		if v := c.Query("date"); v != "" {
			parsed, err := time.ParseInLocation("2006-01-02", v, time.Local)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid date, expected YYYY-MM-DD"})
				return
			}
			date = parsed
		}

		summary, err := att.DailySummary(c.Request.Context(), date, c.Query("course"), c.Query("department"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": summary})
	})

	api.DELETE("/attendance/clear", func(c *gin.Context) {
		if err := att.ClearAll(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "All attendance records have been deleted."})
	})

	api.POST("/students", deviceAuth, func(c *gin.Context) {
		var req struct {
			FingerprintID int    `json:"fingerprint_id" binding:"required"`
			Name          string `json:"name" binding:"required"`
			Department    string `json:"department" binding:"required"`
			Class         string `json:"class"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing required fields: fingerprint_id, name, department"})
			return
		}

		st, err := stu.Register(c.Request.Context(), student.RegisterInput{
			FingerprintID: req.FingerprintID,
			Name:          req.Name,
			Department:    req.Department,
			Class:         req.Class,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		metrics.StudentsRegistered.Inc()
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Student registered successfully",
			"data": gin.H{
				"fingerprint_id": st.FingerprintID,
				"name":           st.Name,
				"department":     st.Department,
				"student_id":     st.StudentID,
				"class":          st.Class,
				"registered_at":  st.RegisteredAt,
			},
		})
	})

	api.GET("/students", func(c *gin.Context) {
		f := student.ListFilter{Department: c.Query("department")}
		if v := c.Query("is_active"); v != "" {
			active := v == "true"
			f.IsActive = &active
		}
		page, limit := pagination(c)

		students, total, err := stu.List(c.Request.Context(), f, page, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		if students == nil {
			students = []student.Student{}
		}
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"data":       students,
			"pagination": paginationMeta(page, limit, total),
		})
	})

	api.GET("/students/:fingerprint_id", func(c *gin.Context) {
		fp, err := strconv.Atoi(c.Param("fingerprint_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid fingerprint_id"})
			return
		}
		st, err := stu.Get(c.Request.Context(), fp)
		if err != nil {
			respondError(c, err)
			return
		}
		recent, err := attRepo.RecentByFingerprint(c.Request.Context(), fp, 10)
		if err != nil {
			respondError(c, err)
			return
		}
		if recent == nil {
			recent = []attendance.Record{}
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    gin.H{"student": st, "recent_attendance": recent},
		})
	})

	api.PUT("/students/:fingerprint_id", func(c *gin.Context) {
		fp, err := strconv.Atoi(c.Param("fingerprint_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid fingerprint_id"})
			return
		}
		var req struct {
			Name       *string `json:"name"`
			Department *string `json:"department"`
			Class      *string `json:"class"`
			IsActive   *bool   `json:"is_active"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			return
		}
		st, err := stu.Update(c.Request.Context(), fp, student.UpdateInput{
			Name:       req.Name,
			Department: req.Department,
			Class:      req.Class,
			IsActive:   req.IsActive,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Student updated successfully", "data": st})
	})

	api.DELETE("/students/clear", func(c *gin.Context) {
		if err := stu.ClearAll(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "All students have been deleted."})
	})

	api.DELETE("/students/:fingerprint_id", func(c *gin.Context) {
		fp, err := strconv.Atoi(c.Param("fingerprint_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid fingerprint_id"})
			return
		}
		if err := stu.Deactivate(c.Request.Context(), fp); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Student deactivated successfully"})
	})

	api.GET("/events", func(c *gin.Context) {
		limit := 100
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		events, err := eventRepo.Recent(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		if events == nil {
			events = []eventbus.Event{}
		}
		c.JSON(http.StatusOK, events)
	})

	api.GET("/events/stream", func(c *gin.Context) {
		sub := bus.Register()
		if sub == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "shutting down"})
			return
		}
		defer bus.Unregister(sub)

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		c.Writer.WriteHeader(http.StatusOK)

		// Comment frame so proxies open the stream right away.
		if _, err := io.WriteString(c.Writer, ":\n\n"); err != nil {
			return
		}
		c.Writer.Flush()

		keepAlive := time.NewTicker(cfg.KeepAliveInterval)
		defer keepAlive.Stop()
		clientGone := c.Request.Context().Done()

		for {
			select {
			case <-clientGone:
				return
			case evt, ok := <-sub.C():
				if !ok {
					return
				}
				payload, err := json.Marshal(evt)
				if err != nil {
					log.Printf("marshal stream event failed: %v", err)
					continue
				}
				if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
					return
				}
				c.Writer.Flush()
			case <-keepAlive.C:
				if _, err := io.WriteString(c.Writer, ":\n\n"); err != nil {
					return
				}
				c.Writer.Flush()
			}
		}
	})

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: event streams stay open indefinitely.
		IdleTimeout: 60 * time.Second,
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

	// Closing the bus ends every open stream so Shutdown can drain.
	bus.Close()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// respondError maps domain errors onto the API's response shape.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "Server error"
	switch {
	case errors.Is(err, attendance.ErrInvalidCourse),
		errors.Is(err, attendance.ErrInvalidPeriod),
		errors.Is(err, student.ErrInvalidFingerprint),
		errors.Is(err, student.ErrInvalidName),
		errors.Is(err, student.ErrInvalidDepartment):
		status, msg = http.StatusBadRequest, capitalize(err.Error())
	case errors.Is(err, attendance.ErrStudentNotFound), errors.Is(err, student.ErrNotFound):
		status, msg = http.StatusNotFound, capitalize(err.Error())
	case errors.Is(err, attendance.ErrAlreadyMarked), errors.Is(err, student.ErrFingerprintTaken):
		status, msg = http.StatusConflict, capitalize(err.Error())
	default:
		log.Printf("internal error: %v", err)
	}
	c.JSON(status, gin.H{"success": false, "message": msg})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func pagination(c *gin.Context) (page, limit int) {
	page, limit = 1, 50
	if v := c.Query("page"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			page = parsed
		}
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return page, limit
}

func paginationMeta(page, limit, total int) gin.H {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return gin.H{"page": page, "limit": limit, "total": total, "pages": pages}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
