package pm2

import "strings"

// Command synthesis lives here so the real execution path and the control
// dry-run output are built from the same bytes.

func ListCommand() string {
	return "pm2 jlist"
}

func StartCommand(script, processName string) string {
	return join("pm2", "start", script, "--name", processName)
}

func StopCommand(processName string) string {
	return join("pm2", "stop", processName)
}

func RestartCommand(processName string, updateEnv bool) string {
	if updateEnv {
		return join("pm2", "restart", processName, "--update-env")
	}
	return join("pm2", "restart", processName)
}

func DeleteCommand(processName string) string {
	return join("pm2", "delete", processName)
}

func SaveCommand() string {
	return "pm2 save"
}

func StartEcosystemCommand(ecosystemPath, onlyName string) string {
	if onlyName != "" {
		return join("pm2", "start", ecosystemPath, "--only", onlyName)
	}
	return join("pm2", "start", ecosystemPath)
}

func join(parts ...string) string {
	return strings.Join(parts, " ")
}
