/*
Package runtime drives the Docker Engine for lab container operations.

The Driver interface abstracts the engine so the lifecycle controller
and reconciler can be tested against an in-memory fake. The production
DockerDriver creates hardened lab containers (read-only rootfs, all
capabilities dropped, no-new-privileges, tmpfs-only writes, memory, CPU
and pid ceilings) attached to an isolated bridge network whose egress
toward the protected address range is blocked with an iptables rule in
the DOCKER-USER chain.

Every method takes a context; callers are expected to bound calls with
their configured deadlines.
*/
package runtime
