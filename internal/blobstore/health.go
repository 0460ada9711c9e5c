// health.go — проверка готовности хранилища объектов для /health/ready.
package blobstore

import (
	"context"
	"fmt"
	"time"
)

// bucketChecker — операция проверки бакета (реализуется *Client).
type bucketChecker interface {
	CheckBucket(ctx context.Context) error
}

// ReadinessChecker — проверка готовности бакета.
// Реализует интерфейс handlers.ReadinessChecker.
type ReadinessChecker struct {
	client  bucketChecker
	timeout time.Duration
}

// NewReadinessChecker создаёт проверку готовности хранилища.
func NewReadinessChecker(client *Client) *ReadinessChecker {
	return &ReadinessChecker{client: client, timeout: 3 * time.Second}
}

// CheckReady выполняет HeadBucket.
// Возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.client.CheckBucket(ctx); err != nil {
		return "fail", fmt.Sprintf("хранилище объектов недоступно: %v", err)
	}
	return "ok", "бакет доступен"
}
