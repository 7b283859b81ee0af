package server

// MetaDataHeader is an internal-only response header used by the test
// harness to see which arm of the pipeline produced a response.
const MetaDataHeader = "MetaData"

// MetaData header values.
const (
	MetaServedFile = "MetaData::ServedFile"
	MetaServedRaw  = "MetaData::ServedRaw"
	MetaProxied    = "MetaData::Proxied"
)
