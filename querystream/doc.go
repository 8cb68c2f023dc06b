// Package querystream turns callback-based query change listeners into
// cancellable change streams backed by Go channels.
//
// This package defines the fundamental interfaces and types shared by the
// engine implementations: the Query collaborator port, result sets, change
// notifications, the query definition builder, and common error definitions.
//
// A Query (implemented by the engines, or by any external collaborator)
// reports fresh results through registered ChangeListener callbacks. The
// Observe functions register a listener, trigger the initial execution, and
// deliver every change through a bounded, ordered channel until the consumer
// cancels or the collaborator reports an error.
//
// Key types:
//   - Query: the collaborator port (Execute, AddChangeListener, RemoveChangeListener)
//   - QueryChange: one change notification, carrying results or an error
//   - ChangeStream: the consumer-side handle (Events, Err, Stop)
//   - Definition: criteria for a live query, built with BuildQueryDefinition
//
// Common usage pattern:
//
//	definition := querystream.BuildQueryDefinition().
//		From("readings").
//		Selecting("sensor_id", "value").
//		WhereAllOf(querystream.P("sensor_id", "s-17")).
//		OrderedBy("value", querystream.Descending).
//		Finalize()
//
//	stream, err := querystream.ObserveResults(ctx, engine.LiveQuery(definition))
//	if err != nil {
//		// handle error
//	}
//	defer stream.Stop()
//
//	for results := range stream.Events() {
//		// consume results
//	}
//	if err := stream.Err(); err != nil {
//		// the collaborator reported a query error
//	}
package querystream
