package services

// ServiceContainer holds all service interfaces.
// This is the main entry point for accessing service functionality from handlers.
type ServiceContainer struct {
	Scan        ScanSvcFacade
	Recon       ReconSvcFacade
	Transaction TransactionSvcFacade
	ParseQueue  ParseQueueSvc
	Cleanup     CleanupSvc
}
