// Package config loads bridge settings and instrument profiles from a
// configuration directory.
//
// The directory holds settings.yaml plus one YAML profile per instrument,
// named after the profile:
//
//	config/
//	  settings.yaml      ports, serializer, logging, optional services
//	  simulate.yaml      microscope profile (microscope: simulate)
//	  simcam.yaml        camera profile (camera: simcam), optional
//
// Values are read in this order, later ones winning: built-in defaults,
// the YAML files, then TEMBRIDGE_* environment variables.
package config
