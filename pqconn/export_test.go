// File export_test exports some internals for better testing.

package pqconn

func NewDescriptorError(descriptor, msg string, err error) error {
	return &DescriptorError{
		Descriptor: descriptor,
		msg:        msg,
		err:        err,
	}
}
