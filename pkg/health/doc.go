/*
Package health provides probes used to judge whether a host is reachable and
to run out-of-band commands against it.

Three checkers implement Checker:

  - TCPChecker: dials the host agent's port
  - HTTPChecker: GETs the agent's health endpoint and checks the status code
  - ExecChecker: runs a local command, e.g. an IPMI query or power-off

The HA engine's agent investigator probes a host with a TCP or HTTP checker.
A failed probe never proves a host is down: it only means the host could not
be confirmed up, and the investigator reports Unknown. The exec fencer wraps
ExecChecker to power off or isolate a host through its management controller.

Status applies the Retries threshold to a series of results so a single
dropped probe does not flip a host to unhealthy:

	status := health.NewStatus()
	status.Update(checker.Check(ctx), health.DefaultConfig())
	if !status.Healthy {
		...
	}
*/
package health
