package auditv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName                  = "mirador.audit.v1.VulnerabilityExtractor"
	ExtractVulnerabilitiesMethod = "/" + ServiceName + "/ExtractVulnerabilities"
)

// ExtractorServer is the server API for the VulnerabilityExtractor service.
type ExtractorServer interface {
	ExtractVulnerabilities(context.Context, *ExtractRequest) (*ExtractResponse, error)
}

// UnimplementedExtractorServer can be embedded for forward compatibility.
type UnimplementedExtractorServer struct{}

func (UnimplementedExtractorServer) ExtractVulnerabilities(context.Context, *ExtractRequest) (*ExtractResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ExtractVulnerabilities not implemented")
}

// RegisterExtractorServer attaches srv to s.
func RegisterExtractorServer(s grpc.ServiceRegistrar, srv ExtractorServer) {
	s.RegisterService(&ExtractorServiceDesc, srv)
}

func extractVulnerabilitiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExtractRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExtractorServer).ExtractVulnerabilities(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ExtractVulnerabilitiesMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExtractorServer).ExtractVulnerabilities(ctx, req.(*ExtractRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ExtractorServiceDesc describes the VulnerabilityExtractor service.
var ExtractorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExtractorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ExtractVulnerabilities",
			Handler:    extractVulnerabilitiesHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/audit/v1/extractor",
}

// ExtractorClient is the client API for the VulnerabilityExtractor service.
type ExtractorClient interface {
	ExtractVulnerabilities(ctx context.Context, in *ExtractRequest, opts ...grpc.CallOption) (*ExtractResponse, error)
}

type extractorClient struct {
	cc grpc.ClientConnInterface
}

// NewExtractorClient returns a client that always uses the JSON codec.
func NewExtractorClient(cc grpc.ClientConnInterface) ExtractorClient {
	return &extractorClient{cc: cc}
}

func (c *extractorClient) ExtractVulnerabilities(ctx context.Context, in *ExtractRequest, opts ...grpc.CallOption) (*ExtractResponse, error) {
	out := new(ExtractResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, ExtractVulnerabilitiesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
