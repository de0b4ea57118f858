package creditv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "credit.v1.CreditService"

const (
	CreditService_GetBalance_FullMethodName       = "/credit.v1.CreditService/GetBalance"
	CreditService_Grant_FullMethodName            = "/credit.v1.CreditService/Grant"
	CreditService_Deduct_FullMethodName           = "/credit.v1.CreditService/Deduct"
	CreditService_CheckAffordable_FullMethodName  = "/credit.v1.CreditService/CheckAffordable"
	CreditService_Settle_FullMethodName           = "/credit.v1.CreditService/Settle"
	CreditService_ListTransactions_FullMethodName = "/credit.v1.CreditService/ListTransactions"
	CreditService_ListBatches_FullMethodName      = "/credit.v1.CreditService/ListBatches"
	CreditService_GetSettings_FullMethodName      = "/credit.v1.CreditService/GetSettings"
	CreditService_UpdateSetting_FullMethodName    = "/credit.v1.CreditService/UpdateSetting"
)

// CreditServiceClient is the client API for credit.v1.CreditService.
type CreditServiceClient interface {
	GetBalance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error)
	Grant(ctx context.Context, in *GrantRequest, opts ...grpc.CallOption) (*GrantResponse, error)
	Deduct(ctx context.Context, in *DeductRequest, opts ...grpc.CallOption) (*DeductResponse, error)
	CheckAffordable(ctx context.Context, in *CheckAffordableRequest, opts ...grpc.CallOption) (*CheckAffordableResponse, error)
	Settle(ctx context.Context, in *SettleRequest, opts ...grpc.CallOption) (*SettleResponse, error)
	ListTransactions(ctx context.Context, in *ListTransactionsRequest, opts ...grpc.CallOption) (*ListTransactionsResponse, error)
	ListBatches(ctx context.Context, in *ListBatchesRequest, opts ...grpc.CallOption) (*ListBatchesResponse, error)
	GetSettings(ctx context.Context, in *GetSettingsRequest, opts ...grpc.CallOption) (*GetSettingsResponse, error)
	UpdateSetting(ctx context.Context, in *UpdateSettingRequest, opts ...grpc.CallOption) (*UpdateSettingResponse, error)
}

type creditServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCreditServiceClient(cc grpc.ClientConnInterface) CreditServiceClient {
	return &creditServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	callOptions := append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, method, in, out, callOptions...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *creditServiceClient) GetBalance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	return invoke[BalanceResponse](ctx, c.cc, CreditService_GetBalance_FullMethodName, in, opts)
}

func (c *creditServiceClient) Grant(ctx context.Context, in *GrantRequest, opts ...grpc.CallOption) (*GrantResponse, error) {
	return invoke[GrantResponse](ctx, c.cc, CreditService_Grant_FullMethodName, in, opts)
}

func (c *creditServiceClient) Deduct(ctx context.Context, in *DeductRequest, opts ...grpc.CallOption) (*DeductResponse, error) {
	return invoke[DeductResponse](ctx, c.cc, CreditService_Deduct_FullMethodName, in, opts)
}

func (c *creditServiceClient) CheckAffordable(ctx context.Context, in *CheckAffordableRequest, opts ...grpc.CallOption) (*CheckAffordableResponse, error) {
	return invoke[CheckAffordableResponse](ctx, c.cc, CreditService_CheckAffordable_FullMethodName, in, opts)
}

func (c *creditServiceClient) Settle(ctx context.Context, in *SettleRequest, opts ...grpc.CallOption) (*SettleResponse, error) {
	return invoke[SettleResponse](ctx, c.cc, CreditService_Settle_FullMethodName, in, opts)
}

func (c *creditServiceClient) ListTransactions(ctx context.Context, in *ListTransactionsRequest, opts ...grpc.CallOption) (*ListTransactionsResponse, error) {
	return invoke[ListTransactionsResponse](ctx, c.cc, CreditService_ListTransactions_FullMethodName, in, opts)
}

func (c *creditServiceClient) ListBatches(ctx context.Context, in *ListBatchesRequest, opts ...grpc.CallOption) (*ListBatchesResponse, error) {
	return invoke[ListBatchesResponse](ctx, c.cc, CreditService_ListBatches_FullMethodName, in, opts)
}

func (c *creditServiceClient) GetSettings(ctx context.Context, in *GetSettingsRequest, opts ...grpc.CallOption) (*GetSettingsResponse, error) {
	return invoke[GetSettingsResponse](ctx, c.cc, CreditService_GetSettings_FullMethodName, in, opts)
}

func (c *creditServiceClient) UpdateSetting(ctx context.Context, in *UpdateSettingRequest, opts ...grpc.CallOption) (*UpdateSettingResponse, error) {
	return invoke[UpdateSettingResponse](ctx, c.cc, CreditService_UpdateSetting_FullMethodName, in, opts)
}

// CreditServiceServer is the server API for credit.v1.CreditService.
// Implementations must embed UnimplementedCreditServiceServer.
type CreditServiceServer interface {
	GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error)
	Grant(context.Context, *GrantRequest) (*GrantResponse, error)
	Deduct(context.Context, *DeductRequest) (*DeductResponse, error)
	CheckAffordable(context.Context, *CheckAffordableRequest) (*CheckAffordableResponse, error)
	Settle(context.Context, *SettleRequest) (*SettleResponse, error)
	ListTransactions(context.Context, *ListTransactionsRequest) (*ListTransactionsResponse, error)
	ListBatches(context.Context, *ListBatchesRequest) (*ListBatchesResponse, error)
	GetSettings(context.Context, *GetSettingsRequest) (*GetSettingsResponse, error)
	UpdateSetting(context.Context, *UpdateSettingRequest) (*UpdateSettingResponse, error)
	mustEmbedUnimplementedCreditServiceServer()
}

type UnimplementedCreditServiceServer struct{}

func (UnimplementedCreditServiceServer) GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBalance not implemented")
}
func (UnimplementedCreditServiceServer) Grant(context.Context, *GrantRequest) (*GrantResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Grant not implemented")
}
func (UnimplementedCreditServiceServer) Deduct(context.Context, *DeductRequest) (*DeductResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Deduct not implemented")
}
func (UnimplementedCreditServiceServer) CheckAffordable(context.Context, *CheckAffordableRequest) (*CheckAffordableResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CheckAffordable not implemented")
}
func (UnimplementedCreditServiceServer) Settle(context.Context, *SettleRequest) (*SettleResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Settle not implemented")
}
func (UnimplementedCreditServiceServer) ListTransactions(context.Context, *ListTransactionsRequest) (*ListTransactionsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListTransactions not implemented")
}
func (UnimplementedCreditServiceServer) ListBatches(context.Context, *ListBatchesRequest) (*ListBatchesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListBatches not implemented")
}
func (UnimplementedCreditServiceServer) GetSettings(context.Context, *GetSettingsRequest) (*GetSettingsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetSettings not implemented")
}
func (UnimplementedCreditServiceServer) UpdateSetting(context.Context, *UpdateSettingRequest) (*UpdateSettingResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateSetting not implemented")
}
func (UnimplementedCreditServiceServer) mustEmbedUnimplementedCreditServiceServer() {}

func RegisterCreditServiceServer(registrar grpc.ServiceRegistrar, server CreditServiceServer) {
	registrar.RegisterService(&CreditService_ServiceDesc, server)
}

func unaryHandler[Req any, Resp any](fullMethod string, call func(CreditServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CreditServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CreditServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// CreditService_ServiceDesc is the grpc.ServiceDesc for credit.v1.CreditService.
var CreditService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CreditServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBalance", Handler: unaryHandler(CreditService_GetBalance_FullMethodName, CreditServiceServer.GetBalance)},
		{MethodName: "Grant", Handler: unaryHandler(CreditService_Grant_FullMethodName, CreditServiceServer.Grant)},
		{MethodName: "Deduct", Handler: unaryHandler(CreditService_Deduct_FullMethodName, CreditServiceServer.Deduct)},
		{MethodName: "CheckAffordable", Handler: unaryHandler(CreditService_CheckAffordable_FullMethodName, CreditServiceServer.CheckAffordable)},
		{MethodName: "Settle", Handler: unaryHandler(CreditService_Settle_FullMethodName, CreditServiceServer.Settle)},
		{MethodName: "ListTransactions", Handler: unaryHandler(CreditService_ListTransactions_FullMethodName, CreditServiceServer.ListTransactions)},
		{MethodName: "ListBatches", Handler: unaryHandler(CreditService_ListBatches_FullMethodName, CreditServiceServer.ListBatches)},
		{MethodName: "GetSettings", Handler: unaryHandler(CreditService_GetSettings_FullMethodName, CreditServiceServer.GetSettings)},
		{MethodName: "UpdateSetting", Handler: unaryHandler(CreditService_UpdateSetting_FullMethodName, CreditServiceServer.UpdateSetting)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: ServiceName,
}
