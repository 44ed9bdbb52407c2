// Copyright Pigeonworks LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dungeon

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/pigeonworks-llc/go-dungeon/pkg/dungeon"

type metrics struct {
	created         metric.Int64Counter
	activated       metric.Int64Counter
	provisionFailed metric.Int64Counter
	completed       metric.Int64Counter
	timedOut        metric.Int64Counter
	deleted         metric.Int64Counter
	active          metric.Int64UpDownCounter
}

func newMetrics(mp metric.MeterProvider) *metrics {
	meter := mp.Meter(instrumentationName)

	active, err := meter.Int64UpDownCounter("dungeon.instances.active",
		metric.WithDescription("Instances currently running or winding down"),
		metric.WithUnit("{instance}"))
	if err != nil {
		active = noop.Int64UpDownCounter{}
	}

	return &metrics{
		created:         counter(meter, "dungeon.instances.created", "Instance reservations"),
		activated:       counter(meter, "dungeon.instances.activated", "Instances promoted to running"),
		provisionFailed: counter(meter, "dungeon.instances.provision_failed", "Reservations discarded after provisioning failed"),
		completed:       counter(meter, "dungeon.instances.completed", "Instances completed"),
		timedOut:        counter(meter, "dungeon.instances.timed_out", "Instances that ran out of time"),
		deleted:         counter(meter, "dungeon.instances.deleted", "Instances removed from the registry"),
		active:          active,
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{instance}"))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func templateAttr(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("template", name))
}
