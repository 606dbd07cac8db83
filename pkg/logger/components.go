package logger

// Component name constants for standardized logging
const (
	// Core components
	ComponentCore              = "Core"
	ComponentControlLoop       = "ControlLoop"
	ComponentStarvationChecker = "StarveCheck"

	// Supervision components
	ComponentBaseFSM           = "BaseFSM"
	ComponentSupervisorManager = "SupervisorManager"
	ComponentServiceInstance   = "ServiceInstance"
	ComponentRegistry          = "Registry"

	// Service components
	ComponentProcessService    = "ProcessService"
	ComponentHealthMonitor     = "HealthMonitor"
	ComponentHostMonitor       = "HostMonitor"
	ComponentFilesystemService = "FilesystemService"

	// State continuity components
	ComponentBackupManager = "BackupManager"
	ComponentScheduler     = "Scheduler"
	ComponentEventJournal  = "EventJournal"

	// Interfaces
	ComponentAPIServer     = "APIServer"
	ComponentConfigManager = "ConfigManager"
	ComponentCLI           = "CLI"
)
