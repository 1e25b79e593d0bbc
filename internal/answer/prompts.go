package answer

const systemPromptTemplate = `You are a helpful assistant that answers questions about the content of a website as of %s. Use the provided page titles and URLs to reference where information comes from. Include links in Markdown format when appropriate.`

const siteContentPrefix = "Here is the content of the website:\n\n"

const dateLayout = "January 2, 2006"

const temperature = 0.1
