package config

// Version is the released version of querypanda.
const Version = "0.2.2"
