package cache

import "time"

// Entry represents a cached binding module build
type Entry struct {
	// Hash is the unique identifier for this cache entry
	// Computed from: source and signature content + build options + extension suffix
	Hash string `json:"hash"`

	// Module is the binding module name
	Module string `json:"module"`

	// Inputs are the absolute paths of the sources and signature file
	Inputs []string `json:"inputs"`

	// Suffix is the platform extension suffix the output was built for
	Suffix string `json:"suffix"`

	// Timestamp when this entry was created
	Timestamp time.Time `json:"timestamp"`

	// Outputs lists the produced files, relative to the output directory
	Outputs []string `json:"outputs"`

	// Success indicates if the build was successful
	Success bool `json:"success"`
}

// InstallRecord is the ledger entry for one fallback install attempt
type InstallRecord struct {
	// Spec is the requirement handed to the installer (e.g. "h5py>=2.10")
	Spec string `json:"spec"`

	// Installer is the command line prefix that was used, if one was found
	Installer []string `json:"installer,omitempty"`

	// Stage is the last stage the attempt reached
	Stage string `json:"stage"`

	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
