// Copyright 2026 the Exposure Reporting Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package outbox

import (
	"github.com/regtech/exposure-reporting-server/internal/database"
	"github.com/regtech/exposure-reporting-server/pkg/observability"
)

// KafkaConfig locates the event topic.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS, default=localhost:9092"`
	Topic   string   `env:"KAFKA_TOPIC, default=exposure-reporting.events"`
	GroupID string   `env:"KAFKA_GROUP_ID"`
}

// ServerConfig represents the configuration and associated environment
// variables for the outbox publisher service. It satisfies the setup config
// provider interfaces.
type ServerConfig struct {
	Database              database.Config
	ObservabilityExporter observability.Config
	Publisher             Config
	Kafka                 KafkaConfig

	Port string `env:"PORT, default=8080"`
}

func (c *ServerConfig) DatabaseConfig() *database.Config {
	return &c.Database
}

func (c *ServerConfig) ObservabilityExporterConfig() *observability.Config {
	return &c.ObservabilityExporter
}
