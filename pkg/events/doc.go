/*
Package events provides an in-process publish/subscribe broker for scheduler
events and the alerter built on it.

The broker fans each published event out to every subscriber over buffered
channels; a subscriber whose buffer is full misses the event rather than
stalling the publisher. Components publish placements, HA transitions, host
failures and rebalance moves. Terminal conditions (an HA work item reaching
Error, a failed rebalance move) go through the Alerter, which logs them and
publishes an EventAlert carrying the alert kind and scope.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	alerter := events.NewAlerter(broker)
	alerter.Send(events.AlertHAError, "vm-1", "restart retries exhausted")
	ev := <-sub
*/
package events
