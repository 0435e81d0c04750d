// Command routeharness runs scripted routing conformance scenarios against
// a simulated network and serves topology address resolution to
// partitioned runs.
package main

func main() {
	Execute()
}
