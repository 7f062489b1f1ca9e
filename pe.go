package faerie

// writePE would be the PE/COFF back-end (spec.md's Non-goals explicitly
// exclude it: "PE/COFF is out of scope for the first version"). The
// teacher's own pe.go/pe_writer.go/pe_reader.go build a Windows x86_64
// executable image, not a COFF relocatable object, so there is nothing to
// adapt into this shape without inventing an object format the teacher
// never emits; FormatPE stays enumerated on Target so a future back-end
// has somewhere to plug in, and Write rejects it uniformly today.
func writePE(a *Artifact, sink Sink) (int64, error) {
	return 0, UnsupportedTargetError{Target: a.target}
}
