//go:build windows

package pidregistry

import "time"

// GracefulWindow is the fixed ceiling for the terminate-then-kill protocol.
const GracefulWindow = 30 * time.Second

// PortsToPIDs is not implemented on Windows; orphan recovery degrades to
// registry-file-only recovery on this platform.
func PortsToPIDs(ports []int) ([]int, error) {
	return nil, nil
}

// Terminate is a no-op placeholder on Windows pending a job-object based
// termination protocol.
func Terminate(pids []int) {}

// RecoverOrphans performs registry-file-only recovery on Windows.
func RecoverOrphans(registryPath string, servicePorts []int) error {
	_, err := Load(registryPath)
	if err != nil {
		return err
	}
	return Delete(registryPath)
}
