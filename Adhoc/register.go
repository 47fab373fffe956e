package Adhoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"QrScanServer/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

type RegisterRequest struct {
	Id        string `json:"id"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	Role      string `json:"role"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

// SendAliveMessage announces this node to registryURL every interval until
// ctx is done. wg.Done is called on exit.
func SendAliveMessage(ctx context.Context, wg *sync.WaitGroup, registryURL, ip string, port int, role string, interval time.Duration) {
	defer wg.Done()
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	client := resty.New().SetTimeout(TimeOutSeconds * time.Second)
	id := uuid.NewString()
	url := fmt.Sprintf("%s/api/register", registryURL)

	send := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error("SendAliveMessage panic recovered", zap.Any("panic", r))
			}
		}()
		var respBody RegisterResponse
		resp, err := client.R().
			SetContext(ctx).
			SetBody(RegisterRequest{Id: id, IP: ip, Port: port, Role: role, TimeStamp: time.Now().Unix()}).
			SetResult(&respBody).
			Post(url)
		if err != nil {
			logger.Log().Warn("register request failed", zap.Error(err))
			return
		}
		if resp.IsError() {
			logger.Log().Warn("registry returned error", zap.String("status", resp.Status()), zap.String("body", resp.String()))
		}
	}

	send()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine")
			return
		case <-ticker.C:
			send()
		}
	}
}
