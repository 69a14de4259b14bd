/*
Copyright 2024 Adspace Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package adspace

import (
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/adspacehq/adspace/config"
	"github.com/adspacehq/adspace/database"
	"github.com/adspacehq/adspace/internal/cache"
	redis_db "github.com/adspacehq/adspace/internal/redis-db"
)

var tracer = otel.Tracer("settlement")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Adspace is the settlement engine: it scans the booking ledger, moves
// escrowed funds to space owners through the payment processor, and records
// what happened.
type Adspace struct {
	datasource database.IDataSource
	processor  ProcessorClient
	queue      *Queue
	cache      cache.Cache
	redis      redis.UniversalClient
}

// NewAdspace wires the engine from configuration: Redis for the run lock and
// the notification dedup cache, the processor client for money movement, and
// the queue for scheduled runs.
func NewAdspace(db database.IDataSource) (*Adspace, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	notificationCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	processor := NewProcessorClient(configuration.Processor)

	return &Adspace{
		datasource: db,
		processor:  processor,
		queue:      newQueue,
		cache:      notificationCache,
		redis:      redisClient.Client(),
	}, nil
}
