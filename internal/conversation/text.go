package conversation

// Fixed user-facing texts of the assistant
const (
	WelcomeText = "Xin chào! Tôi là ViNNan - Chatbot y tế tự động, hỗ trợ chuẩn đoán bệnh và truy xuất thông tin y tế. " +
		"Bạn có thể nêu triệu chứng hoặc tên bệnh để tôi giúp bạn một cách chi tiết và chính xác nhất. Hãy bắt đầu nào!"

	// SendFailedNotice is shown for any failed turn regardless of the error kind
	SendFailedNotice = "Đã xảy ra lỗi khi gửi tin nhắn. Vui lòng thử lại."
)
