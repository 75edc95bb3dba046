package rabbitmq

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name      string
	Type      string
	Durable   bool
	Arguments amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name      string
	Durable   bool
	Arguments amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// Topology is the declarative description of the broker entities the
// process needs. Declaring it again with the same parameters is a no-op.
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// TopologyNames are the entity names used by DefaultTopology
type TopologyNames struct {
	Exchange           string
	Queue              string
	RoutingKey         string
	DeadLetterExchange string // empty disables dead-lettering
	DeadLetterQueue    string
}

// DefaultTopology builds the direct exchange, durable queue and binding used
// for domain events, plus the dead-letter pair when configured.
func DefaultTopology(names TopologyNames) Topology {
	var queueArgs amqp.Table
	t := Topology{
		Exchanges: []ExchangeDeclaration{
			{Name: names.Exchange, Type: amqp.ExchangeDirect, Durable: true},
		},
	}

	if names.DeadLetterExchange != "" {
		t.Exchanges = append(t.Exchanges, ExchangeDeclaration{
			Name: names.DeadLetterExchange, Type: amqp.ExchangeDirect, Durable: true,
		})
		t.Queues = append(t.Queues, QueueDeclaration{Name: names.DeadLetterQueue, Durable: true})
		t.Bindings = append(t.Bindings, Binding{
			Queue:      names.DeadLetterQueue,
			Exchange:   names.DeadLetterExchange,
			RoutingKey: names.DeadLetterQueue,
		})
		queueArgs = amqp.Table{
			"x-dead-letter-exchange":    names.DeadLetterExchange,
			"x-dead-letter-routing-key": names.DeadLetterQueue,
		}
	}

	t.Queues = append(t.Queues, QueueDeclaration{Name: names.Queue, Durable: true, Arguments: queueArgs})
	t.Bindings = append(t.Bindings, Binding{Queue: names.Queue, Exchange: names.Exchange, RoutingKey: names.RoutingKey})
	return t
}

// Validate checks names and that bindings only reference declared entities
func (t Topology) Validate() error {
	exchanges := make(map[string]bool, len(t.Exchanges))
	queues := make(map[string]bool, len(t.Queues))

	for _, e := range t.Exchanges {
		if e.Name == "" || e.Type == "" {
			return fmt.Errorf("%w: exchange needs a name and a type", ErrInvalidTopology)
		}
		exchanges[e.Name] = true
	}
	for _, q := range t.Queues {
		if q.Name == "" {
			return fmt.Errorf("%w: queue needs a name", ErrInvalidTopology)
		}
		queues[q.Name] = true
	}
	for _, b := range t.Bindings {
		if !queues[b.Queue] {
			return fmt.Errorf("%w: binding references undeclared queue %q", ErrInvalidTopology, b.Queue)
		}
		if !exchanges[b.Exchange] {
			return fmt.Errorf("%w: binding references undeclared exchange %q", ErrInvalidTopology, b.Exchange)
		}
	}
	return nil
}

// TopologyManager asserts a Topology on a channel. It never deletes entities.
type TopologyManager struct {
	logger *slog.Logger
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(logger *slog.Logger) *TopologyManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TopologyManager{logger: logger}
}

// Apply declares every exchange, then every queue, then every binding.
// A parameter mismatch reported by the broker is returned as a TopologyError
// matching ErrTopologyMismatch.
func (tm *TopologyManager) Apply(ch Channel, topology Topology) error {
	if err := topology.Validate(); err != nil {
		return err
	}

	for _, exchange := range topology.Exchanges {
		if err := ch.ExchangeDeclare(exchange.Name, exchange.Type, exchange.Durable, false, false, false, exchange.Arguments); err != nil {
			return topologyError("exchange", exchange.Name, "declare", err)
		}
	}

	for _, queue := range topology.Queues {
		if _, err := ch.QueueDeclare(queue.Name, queue.Durable, false, false, false, queue.Arguments); err != nil {
			return topologyError("queue", queue.Name, "declare", err)
		}
	}

	for _, binding := range topology.Bindings {
		if err := ch.QueueBind(binding.Queue, binding.RoutingKey, binding.Exchange, false, nil); err != nil {
			return topologyError("binding", binding.Queue+"->"+binding.Exchange, "bind", err)
		}
	}

	tm.logger.Info("topology declared",
		"exchanges", len(topology.Exchanges),
		"queues", len(topology.Queues),
		"bindings", len(topology.Bindings))
	return nil
}

func topologyError(component, name, op string, err error) error {
	if IsPreconditionFailed(err) {
		err = errors.Join(ErrTopologyMismatch, err)
	}
	return &TopologyError{
		Component: component,
		Name:      name,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}
