package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	realtime "github.com/cydxin/clinic-realtime"
	"github.com/cydxin/clinic-realtime/message"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// 环境变量（可以写在 .env）：
//
//	CLINIC_RT_DSN=root:password@tcp(127.0.0.1:3306)/clinic?charset=utf8mb4&parseTime=True&loc=Local
//	CLINIC_RT_REDIS_ADDR=127.0.0.1:6379
//	CLINIC_RT_JWT_SECRET=change-me
//	CLINIC_RT_ADDR=:8080
//	CLINIC_RT_PRESENCE_GRACE=3s
//	CLINIC_RT_SQL_DEBUG=1
func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("CLINIC_RT_DSN")
	secret := os.Getenv("CLINIC_RT_JWT_SECRET")
	if dsn == "" || secret == "" {
		log.Fatal("CLINIC_RT_DSN 和 CLINIC_RT_JWT_SECRET 必须配置")
	}

	// 1. 数据库
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("数据库连接失败:", err)
	}

	opts := []realtime.Option{
		realtime.WithDB(db),
		realtime.WithJWTSecret(secret),
		realtime.WithTablePrefix("clinic_"),
		realtime.WithServiceDebug(os.Getenv("CLINIC_RT_SQL_DEBUG") == "1"),
	}

	// 2. Redis（token 注销列表，可选）
	if addr := os.Getenv("CLINIC_RT_REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("redis 不可用，注销功能关闭: %v", err)
		} else {
			opts = append(opts, realtime.WithRDB(rdb))
		}
	}

	if v := os.Getenv("CLINIC_RT_PRESENCE_GRACE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("CLINIC_RT_PRESENCE_GRACE 格式错误: %v", err)
		}
		opts = append(opts, realtime.WithPresenceGrace(d))
	}

	// 3. Engine
	engine := realtime.NewEngine(opts...)

	// 4. 路由
	r := gin.Default()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})
	realtime.RegisterSwagger(r, "/swagger/*any")
	engine.RegisterRoutes(r)

	// 预约模块的接入方式：业务代码改完预约后调用 PublishAppointmentUpdate
	r.POST("/demo/appointments/reschedule", engine.GinAuthMiddleware(nil), func(c *gin.Context) {
		var req struct {
			PatientID     uint64    `json:"patientId" binding:"required"`
			AppointmentID uint64    `json:"appointmentId" binding:"required"`
			ScheduledAt   time.Time `json:"scheduledAt" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		n, err := engine.PublishAppointmentUpdate(req.PatientID, message.AppointmentUpdate{
			AppointmentID: req.AppointmentID,
			PatientID:     req.PatientID,
			Action:        "rescheduled",
			Status:        "confirmed",
			ScheduledAt:   &req.ScheduledAt,
		}, "Appointment rescheduled", "Your appointment time has changed")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"delivered": n})
	})

	addr := os.Getenv("CLINIC_RT_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Printf("Clinic realtime 启动在 %s", addr)
		log.Printf("Swagger UI: http://localhost%s/swagger/index.html", addr)
		log.Printf("WebSocket 地址: ws://localhost%s/ws?token=YOUR_TOKEN", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("服务器启动失败:", err)
		}
	}()

	// 5. 优雅退出：先关 websocket（走同一个收尾路径），再关 HTTP
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	engine.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
}
