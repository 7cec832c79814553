// Package sim defines the session boundary with the external 3D simulator:
// the Controller interface every backend implements, the Command vocabulary
// sent to it, and the Event (metadata plus frames) it returns.
//
// Backends live in sibling packages: kinematic is an in-process simulator
// for tests and offline runs, and simclient talks to a remote simulator over
// gRPC or HTTP.
package sim
