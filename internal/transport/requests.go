package transport

// CampaignURI identifies a campaign in the path.
type CampaignURI struct {
	CampaignID string `uri:"campaignId" binding:"required,voxid"`
}

// ChannelURI identifies a channel in the path.
type ChannelURI struct {
	ChannelID string `uri:"channelId" binding:"required,uuid4"`
}

type CreateChannelBody struct {
	CampaignID  string `json:"campaign_id" binding:"required,voxid"`
	Name        string `json:"name" binding:"required,channelname"`
	Description string `json:"description" binding:"omitempty,max=500"`
	MaxUsers    int    `json:"max_users" binding:"omitempty,min=1,max=100"`
}

type UpdateChannelBody struct {
	Name        *string `json:"name" binding:"omitempty,channelname"`
	Description *string `json:"description" binding:"omitempty,max=500"`
	MaxUsers    *int    `json:"max_users" binding:"omitempty,min=1,max=100"`
}
